package oracle

import (
	"fmt"
	"net/http"

	"github.com/insightlabs/observatory/internal/core"
)

// NewClient builds the adapter matching an instance's protocol config.
// UMA instances are event-synced, not price-polled, and are rejected
// here.
func NewClient(inst *core.ProtocolInstance, caller ContractCaller, httpClient *http.Client) (Client, error) {
	switch inst.ProtocolConfig.Kind() {
	case core.ConfigKindAggregator:
		return NewAggregatorClient(inst, caller), nil
	case core.ConfigKindPyth:
		return NewPythClient(inst, caller)
	case core.ConfigKindREST:
		return NewRESTClient(inst, httpClient)
	case core.ConfigKindProxy:
		return NewProxyClient(inst, caller), nil
	case core.ConfigKindUMA:
		return nil, fmt.Errorf("instance %s: optimistic oracle instances have no price client", inst.ID)
	}
	return nil, fmt.Errorf("instance %s: no protocol config", inst.ID)
}
