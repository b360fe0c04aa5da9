package delivery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/tixgate/internal/config"
)

var ErrNoExecutor = errors.New("delivery_executor_not_registered")

// Router resolves an outbox event type to the executor configured for it.
type Router struct {
	routes    *config.DeliveryRoutesHolder
	executors map[string]Executor
}

func NewRouter(routes *config.DeliveryRoutesHolder, executors ...Executor) *Router {
	byName := make(map[string]Executor, len(executors))
	for _, exec := range executors {
		if exec == nil {
			continue
		}
		byName[strings.ToLower(strings.TrimSpace(exec.Name()))] = exec
	}
	return &Router{routes: routes, executors: byName}
}

// Resolve never falls back silently. An unregistered name is an error, so the row
// goes through the retry path and ends up dead-lettered if nobody fixes the config.
func (r *Router) Resolve(eventType string) (Executor, error) {
	name := strings.ToLower(strings.TrimSpace(r.routes.Get().Resolve(eventType)))
	exec, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrNoExecutor, name, eventType)
	}
	return exec, nil
}
