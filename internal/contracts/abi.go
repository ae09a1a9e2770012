package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
  {"inputs":[],"name":"slot0","outputs":[
    {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
    {"internalType":"int24","name":"tick","type":"int24"},
    {"internalType":"uint16","name":"observationIndex","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
    {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
    {"internalType":"bool","name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tickSpacing","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint32[]","name":"secondsAgos","type":"uint32[]"}],"name":"observe","outputs":[
    {"internalType":"int56[]","name":"tickCumulatives","type":"int56[]"},
    {"internalType":"uint160[]","name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const positionManagerABIJSON = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"indexed":false,"internalType":"uint128","name":"liquidity","type":"uint128"},
    {"indexed":false,"internalType":"uint256","name":"amount0","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"amount1","type":"uint256"}],"name":"IncreaseLiquidity","type":"event"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"positions","outputs":[
    {"internalType":"uint96","name":"nonce","type":"uint96"},
    {"internalType":"address","name":"operator","type":"address"},
    {"internalType":"address","name":"token0","type":"address"},
    {"internalType":"address","name":"token1","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"int24","name":"tickLower","type":"int24"},
    {"internalType":"int24","name":"tickUpper","type":"int24"},
    {"internalType":"uint128","name":"liquidity","type":"uint128"},
    {"internalType":"uint256","name":"feeGrowthInside0LastX128","type":"uint256"},
    {"internalType":"uint256","name":"feeGrowthInside1LastX128","type":"uint256"},
    {"internalType":"uint128","name":"tokensOwed0","type":"uint128"},
    {"internalType":"uint128","name":"tokensOwed1","type":"uint128"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"components":[
    {"internalType":"address","name":"token0","type":"address"},
    {"internalType":"address","name":"token1","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"int24","name":"tickLower","type":"int24"},
    {"internalType":"int24","name":"tickUpper","type":"int24"},
    {"internalType":"uint256","name":"amount0Desired","type":"uint256"},
    {"internalType":"uint256","name":"amount1Desired","type":"uint256"},
    {"internalType":"uint256","name":"amount0Min","type":"uint256"},
    {"internalType":"uint256","name":"amount1Min","type":"uint256"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint256","name":"deadline","type":"uint256"}],"internalType":"struct INonfungiblePositionManager.MintParams","name":"params","type":"tuple"}],
   "name":"mint","outputs":[
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"uint128","name":"liquidity","type":"uint128"},
    {"internalType":"uint256","name":"amount0","type":"uint256"},
    {"internalType":"uint256","name":"amount1","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[{"components":[
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"uint128","name":"liquidity","type":"uint128"},
    {"internalType":"uint256","name":"amount0Min","type":"uint256"},
    {"internalType":"uint256","name":"amount1Min","type":"uint256"},
    {"internalType":"uint256","name":"deadline","type":"uint256"}],"internalType":"struct INonfungiblePositionManager.DecreaseLiquidityParams","name":"params","type":"tuple"}],
   "name":"decreaseLiquidity","outputs":[
    {"internalType":"uint256","name":"amount0","type":"uint256"},
    {"internalType":"uint256","name":"amount1","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[{"components":[
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint128","name":"amount0Max","type":"uint128"},
    {"internalType":"uint128","name":"amount1Max","type":"uint128"}],"internalType":"struct INonfungiblePositionManager.CollectParams","name":"params","type":"tuple"}],
   "name":"collect","outputs":[
    {"internalType":"uint256","name":"amount0","type":"uint256"},
    {"internalType":"uint256","name":"amount1","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"burn","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"bytes[]","name":"data","type":"bytes[]"}],"name":"multicall","outputs":[{"internalType":"bytes[]","name":"results","type":"bytes[]"}],"stateMutability":"payable","type":"function"}
]`

const swapRouterABIJSON = `[
  {"inputs":[{"components":[
    {"internalType":"address","name":"tokenIn","type":"address"},
    {"internalType":"address","name":"tokenOut","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint256","name":"amountIn","type":"uint256"},
    {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
    {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IV3SwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[{"components":[
    {"internalType":"address","name":"tokenIn","type":"address"},
    {"internalType":"address","name":"tokenOut","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint256","name":"amountOut","type":"uint256"},
    {"internalType":"uint256","name":"amountInMaximum","type":"uint256"},
    {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IV3SwapRouter.ExactOutputSingleParams","name":"params","type":"tuple"}],
   "name":"exactOutputSingle","outputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

const quoterABIJSON = `[
  {"inputs":[{"components":[
    {"internalType":"address","name":"tokenIn","type":"address"},
    {"internalType":"address","name":"tokenOut","type":"address"},
    {"internalType":"uint256","name":"amountIn","type":"uint256"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"quoteExactInputSingle","outputs":[
    {"internalType":"uint256","name":"amountOut","type":"uint256"},
    {"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},
    {"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},
    {"internalType":"uint256","name":"gasEstimate","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

const lendingPoolABIJSON = `[
  {"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserAccountData","outputs":[
    {"internalType":"uint256","name":"totalCollateralBase","type":"uint256"},
    {"internalType":"uint256","name":"totalDebtBase","type":"uint256"},
    {"internalType":"uint256","name":"availableBorrowsBase","type":"uint256"},
    {"internalType":"uint256","name":"currentLiquidationThreshold","type":"uint256"},
    {"internalType":"uint256","name":"ltv","type":"uint256"},
    {"internalType":"uint256","name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"asset","type":"address"},
    {"internalType":"uint256","name":"amount","type":"uint256"},
    {"internalType":"uint256","name":"interestRateMode","type":"uint256"},
    {"internalType":"uint16","name":"referralCode","type":"uint16"},
    {"internalType":"address","name":"onBehalfOf","type":"address"}],"name":"borrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"asset","type":"address"},
    {"internalType":"uint256","name":"amount","type":"uint256"},
    {"internalType":"uint256","name":"interestRateMode","type":"uint256"},
    {"internalType":"address","name":"onBehalfOf","type":"address"}],"name":"repay","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	poolABIOnce sync.Once
	poolABI     abi.ABI
	poolABIErr  error

	erc20ABIOnce sync.Once
	erc20ABI     abi.ABI
	erc20ABIErr  error

	managerABIOnce sync.Once
	managerABI     abi.ABI
	managerABIErr  error

	routerABIOnce sync.Once
	routerABI     abi.ABI
	routerABIErr  error

	quoterABIOnce sync.Once
	quoterABI     abi.ABI
	quoterABIErr  error

	lendingABIOnce sync.Once
	lendingABI     abi.ABI
	lendingABIErr  error
)

func parseOnce(once *sync.Once, raw string, out *abi.ABI, outErr *error) (abi.ABI, error) {
	once.Do(func() {
		*out, *outErr = abi.JSON(strings.NewReader(raw))
	})
	return *out, *outErr
}

func PoolABI() (abi.ABI, error) {
	return parseOnce(&poolABIOnce, poolABIJSON, &poolABI, &poolABIErr)
}

func ERC20ABI() (abi.ABI, error) {
	return parseOnce(&erc20ABIOnce, erc20ABIJSON, &erc20ABI, &erc20ABIErr)
}

func PositionManagerABI() (abi.ABI, error) {
	return parseOnce(&managerABIOnce, positionManagerABIJSON, &managerABI, &managerABIErr)
}

func SwapRouterABI() (abi.ABI, error) {
	return parseOnce(&routerABIOnce, swapRouterABIJSON, &routerABI, &routerABIErr)
}

func QuoterABI() (abi.ABI, error) {
	return parseOnce(&quoterABIOnce, quoterABIJSON, &quoterABI, &quoterABIErr)
}

func LendingPoolABI() (abi.ABI, error) {
	return parseOnce(&lendingABIOnce, lendingPoolABIJSON, &lendingABI, &lendingABIErr)
}
