package config

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DeliveryRoutes maps outbox event types to executor names.
// A trailing "*" in an event type matches by prefix.
type DeliveryRoutes struct {
	Default string            `mapstructure:"default"`
	Routes  map[string]string `mapstructure:"routes"`
}

func DefaultDeliveryRoutes() DeliveryRoutes {
	return DeliveryRoutes{
		Default: "log",
		Routes: map[string]string{
			"notification.*":         "email",
			"payment.status.changed": "amqp",
			"entitlement.*":          "amqp",
			"ops.alert.*":            "slack",
		},
	}
}

// Resolve returns the executor name for an event type. Exact matches win over prefix matches,
// and the longest prefix wins among prefix matches.
func (r DeliveryRoutes) Resolve(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if name, ok := r.Routes[eventType]; ok {
		return name
	}
	best := ""
	bestLen := -1
	for pattern, name := range r.Routes {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(eventType, prefix) && len(prefix) > bestLen {
			best = name
			bestLen = len(prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return r.Default
}

type DeliveryRoutesHolder struct {
	current atomic.Value // holds DeliveryRoutes
}

// NewStaticDeliveryRoutesHolder wraps fixed routes without watching any file.
func NewStaticDeliveryRoutesHolder(routes DeliveryRoutes) *DeliveryRoutesHolder {
	holder := &DeliveryRoutesHolder{}
	holder.current.Store(routes)
	return holder
}

func NewDeliveryRoutesHolder(cfg Config) (*DeliveryRoutesHolder, error) {
	// Event types contain dots, so nested keys use a different delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))

	if path := strings.TrimSpace(cfg.DeliveryRoutesPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("delivery")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tixgate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TIXGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return NewStaticDeliveryRoutesHolder(DefaultDeliveryRoutes()), nil
	}

	routes, err := unmarshalRoutes(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticDeliveryRoutesHolder(routes)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalRoutes(v)
		if err != nil {
			log.Printf("[delivery-routes] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[delivery-routes] reloaded from %s", filepath.Base(e.Name))
	})

	return holder, nil
}

func (h *DeliveryRoutesHolder) Get() DeliveryRoutes {
	if h == nil {
		return DefaultDeliveryRoutes()
	}
	routes, ok := h.current.Load().(DeliveryRoutes)
	if !ok {
		return DefaultDeliveryRoutes()
	}
	return routes
}

func unmarshalRoutes(v *viper.Viper) (DeliveryRoutes, error) {
	var routes DeliveryRoutes
	if err := v.UnmarshalKey("delivery", &routes); err != nil {
		return DeliveryRoutes{}, err
	}
	if err := validateDeliveryRoutes(routes); err != nil {
		return DeliveryRoutes{}, err
	}
	return routes, nil
}

func validateDeliveryRoutes(routes DeliveryRoutes) error {
	if strings.TrimSpace(routes.Default) == "" {
		return errors.New("delivery.default cannot be empty")
	}
	for pattern, name := range routes.Routes {
		if strings.TrimSpace(pattern) == "" {
			return errors.New("delivery.routes contains an empty event type")
		}
		if strings.TrimSpace(name) == "" {
			return errors.New("delivery.routes." + pattern + " has no executor")
		}
	}
	return nil
}
