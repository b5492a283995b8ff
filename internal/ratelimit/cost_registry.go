package ratelimit

import (
	"sort"
	"sync"
)

// DefaultCUCost is charged for methods without a known cost
const DefaultCUCost = 20

// JSON-RPC methods issued by the ledger backend
const (
	MethodCall                  = "eth_call"
	MethodGetTransactionCount   = "eth_getTransactionCount"
	MethodGasPrice              = "eth_gasPrice"
	MethodEstimateGas           = "eth_estimateGas"
	MethodSendRawTransaction    = "eth_sendRawTransaction"
	MethodGetTransactionReceipt = "eth_getTransactionReceipt"
)

// Compute-unit costs per method, following common provider pricing
const (
	CostCall                  = 26
	CostGetTransactionCount   = 26
	CostGasPrice              = 19
	CostEstimateGas           = 87
	CostSendRawTransaction    = 250
	CostGetTransactionReceipt = 15
)

// CostRegistry maps RPC methods to their CU costs.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostRegistry creates a registry with the default costs. Positive
// overrides replace them; defaultCost <= 0 keeps DefaultCUCost.
func NewCostRegistry(defaultCost int, overrides map[string]int) *CostRegistry {
	costs := map[string]int{
		MethodCall:                  CostCall,
		MethodGetTransactionCount:   CostGetTransactionCount,
		MethodGasPrice:              CostGasPrice,
		MethodEstimateGas:           CostEstimateGas,
		MethodSendRawTransaction:    CostSendRawTransaction,
		MethodGetTransactionReceipt: CostGetTransactionReceipt,
	}
	for method, cost := range overrides {
		if cost > 0 {
			costs[method] = cost
		}
	}
	if defaultCost <= 0 {
		defaultCost = DefaultCUCost
	}
	return &CostRegistry{costs: costs, defaultCost: defaultCost}
}

// GetCost returns the CU cost for an RPC method, or the default cost.
func (r *CostRegistry) GetCost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates a method's cost. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[method] = cost
}

// KnownMethods returns the methods with an explicit cost, sorted
func (r *CostRegistry) KnownMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.costs))
	for method := range r.costs {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
