package sim

// Domain event types emitted by SUT operations. Verification uses them to
// resolve branches that the snapshot diff alone leaves ambiguous, such as
// whether a liquidation was absorbed by the stability pool or redistributed.
const (
	EventSafeOpened          = "safe_opened"
	EventBorrowed            = "borrowed"
	EventRepaid              = "repaid"
	EventCollateralAdded     = "collateral_added"
	EventCollateralWithdrawn = "collateral_withdrawn"
	EventSafeClosed          = "safe_closed"
	EventLiquidated          = "liquidated"
	EventRedeemed            = "redeemed"
	EventPriceUpdated        = "price_updated"
	EventStaked              = "staked"
	EventUnstaked            = "unstaked"
	EventClaimed             = "claimed"
	EventModeChanged         = "mode_changed"
)

// Attribute keys shared across events.
const (
	AttrSafeID          = "safe_id"
	AttrAmount          = "amount"
	AttrCollateral      = "collateral"
	AttrDebt            = "debt"
	AttrFee             = "fee"
	AttrOwner           = "owner"
	AttrPrice           = "price"
	AttrLiquidationMode = "liquidation_mode"
	AttrClosed          = "closed"
	AttrFeeToStakers    = "fee_to_stakers"
	AttrReward          = "reward"
	AttrGov             = "gov"
	AttrRewardFee       = "reward_fee"
	AttrCollateralFee   = "collateral_fee"
	AttrGovFee          = "gov_fee"
)

// Values of AttrLiquidationMode.
const (
	LiquidationAbsorbed      = "absorbed"
	LiquidationRedistributed = "redistributed"
)
