package connection

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/rndebug/rndebug/internal/cdp"
	"github.com/rndebug/rndebug/internal/domain"
	"github.com/rndebug/rndebug/internal/health"
)

// Discoverer finds targets on an inspector port.
type Discoverer interface {
	FetchTargets(ctx context.Context, port int) ([]domain.TargetDescriptor, error)
	SelectPreferred(targets []domain.TargetDescriptor) *domain.TargetDescriptor
}

// DeviceResolver maps a target display name to a device handle for automation tooling.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, displayName string) (string, error)
}

// Dependencies contains required dependencies for the Manager.
type Dependencies struct {
	Logger    hclog.Logger
	Dialer    cdp.Dialer
	Router    *cdp.Router
	Pending   *cdp.Pending
	Ledger    *health.Ledger
	Contexts  *health.ContextTracker
	Discovery Discoverer

	// Devices is optional. When nil no device lookup is attempted.
	Devices DeviceResolver
}

// Validate ensures all required dependencies are provided.
func (d Dependencies) Validate() error {
	if isNil(d.Logger) {
		return fmt.Errorf("logger cannot be nil")
	}
	if isNil(d.Dialer) {
		return fmt.Errorf("dialer cannot be nil")
	}
	if d.Router == nil {
		return fmt.Errorf("router cannot be nil")
	}
	if d.Pending == nil {
		return fmt.Errorf("pending requests cannot be nil")
	}
	if d.Ledger == nil {
		return fmt.Errorf("health ledger cannot be nil")
	}
	if d.Contexts == nil {
		return fmt.Errorf("context tracker cannot be nil")
	}
	if isNil(d.Discovery) {
		return fmt.Errorf("discovery cannot be nil")
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
