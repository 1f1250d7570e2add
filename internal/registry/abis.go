package registry

// ABI fragments for the contracts the permission checkers talk to.
const (
	ERC20ABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	// TradingABI covers the delegation surface of the Ostium trading contract.
	TradingABI = `[
		{"name":"setDelegate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"delegate","type":"address"}],"outputs":[]},
		{"name":"removeDelegate","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"delegations","type":"function","stateMutability":"view","inputs":[{"name":"trader","type":"address"}],"outputs":[{"name":"delegate","type":"address"}]}
	]`
)
