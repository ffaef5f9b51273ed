package chain

// System contract names, as used in the contract address table.
const (
	ValidatorSet    = "ValidatorSet"
	SlashIndicator  = "SlashIndicator"
	SystemReward    = "SystemReward"
	BtcLightClient  = "BtcLightClient"
	CandidateHub    = "CandidateHub"
	GovHub          = "GovHub"
	StakeHub        = "StakeHub"
	CoreAgent       = "CoreAgent"
	HashPowerAgent  = "HashPowerAgent"
	BitcoinStake    = "BitcoinStake"
	BitcoinLSTStake = "BitcoinLSTStake"
	BitcoinLSTToken = "BitcoinLSTToken"
)

// Transaction methods.
const (
	// CandidateHub
	MethodRegister       = "register"
	MethodUnregister     = "unregister"
	MethodAddMargin      = "addMargin"
	MethodRefuseDelegate = "refuseDelegate"
	MethodAcceptDelegate = "acceptDelegate"
	MethodTurnRound      = "turnRound"

	// ValidatorSet: credits the current block reward to a validator.
	MethodDeposit = "deposit"

	// SlashIndicator
	MethodSlash = "slash"

	// CoreAgent
	MethodDelegateCoin   = "delegateCoin"
	MethodUndelegateCoin = "undelegateCoin"
	MethodTransferCoin   = "transferCoin"

	// HashPowerAgent
	MethodDelegateHashPower = "delegateHashPower"

	// BtcLightClient
	MethodConfirmTx = "confirmTx"

	// BitcoinStake / BitcoinLSTStake
	MethodDelegateBtc   = "delegate"
	MethodTransferBtc   = "transfer"
	MethodAddWallet     = "addWallet"
	MethodRedeem        = "redeem"
	MethodUndelegateBtc = "undelegate"

	// BitcoinLSTToken
	MethodTransfer = "transfer"

	// StakeHub
	MethodClaimReward    = "claimReward"
	MethodSponsorSurplus = "sponsorSurplus"

	// GovHub
	MethodUpdateCoreStakeGrades    = "updateCoreStakeGrades"
	MethodUpdateCoreStakeGradeFlag = "updateCoreStakeGradeFlag"
	MethodUpdateBtcStakeGrades     = "updateBtcStakeGrades"
	MethodUpdateBtcStakeGradeFlag  = "updateBtcStakeGradeFlag"
	MethodUpdateBtcLstGradePercent = "updateBtcLstGradePercent"
	MethodAddSystemRewardOperator  = "addSystemRewardOperator"
	MethodUpdateParam              = "updateParam"
)

// Read-only views used by the checker.
const (
	ViewRoundTag      = "roundTag"         // CandidateHub () -> (round)
	ViewCandidate     = "getCandidate"     // CandidateHub (operator) -> (consensus, fee, commission, margin, status, jailedUntil)
	ViewValidators    = "getValidators"    // ValidatorSet () -> (consensus[])
	ViewIncome        = "getIncoming"      // ValidatorSet (consensus) -> (income)
	ViewIndicator     = "indicators"       // SlashIndicator (consensus) -> (height, count, exist)
	ViewCoreDelegator = "getDelegator"     // CoreAgent (candidate, delegator) -> (committed, realtime, changeRound, transferred)
	ViewCoreCandidate = "candidateMap"     // CoreAgent (candidate) -> (committed, realtime)
	ViewCoreTotal     = "delegatorMap"     // CoreAgent (delegator) -> (amount)
	ViewBtcTx         = "btcTxMap"         // BitcoinStake (txid) -> (amount, lockTime, blockTimestamp, candidate, delegator, round, removed)
	ViewBtcCandidate  = "candidateMap"     // BitcoinStake (candidate) -> (committed, realtime)
	ViewLstPosition   = "userStakeInfo"    // BitcoinLSTStake (delegator) -> (changeRound, realtime, committed)
	ViewLstTotals     = "totals"           // BitcoinLSTStake () -> (committed, realtime)
	ViewRedeemRequest = "getRedeemRequest" // BitcoinLSTStake (key) -> (hash, addrType, amount)
	ViewBalanceOf     = "balanceOf"        // BitcoinLSTToken (owner) -> (amount)
	ViewTotalSupply   = "totalSupply"      // BitcoinLSTToken () -> (amount)
	ViewSurplus       = "surplus"          // StakeHub () -> (amount)
	ViewIsOperator    = "isOperator"       // SystemReward (addr) -> (bool)
)

// GovMethods lists the methods that only governance may call.
var GovMethods = map[string]bool{
	MethodUpdateCoreStakeGrades:    true,
	MethodUpdateCoreStakeGradeFlag: true,
	MethodUpdateBtcStakeGrades:     true,
	MethodUpdateBtcStakeGradeFlag:  true,
	MethodUpdateBtcLstGradePercent: true,
	MethodAddSystemRewardOperator:  true,
	MethodUpdateParam:              true,
}
