package routing

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// tableFile is the on-disk shape of the routing table YAML file
// (spec.md §3.5). Field names mirror Table's own maps so decoding is a
// straight copy.
type tableFile struct {
	Topics          map[string]string   `mapstructure:"topics"`
	Systems         map[string]string   `mapstructure:"systems"`
	Bindings        map[string][]string `mapstructure:"bindings"`
	SentQueues      map[string]string   `mapstructure:"sent_queues"`
	DefaultQueue    string              `mapstructure:"default_queue"`
	ErrorQueue      string              `mapstructure:"error_queue"`
	ErrorRoutingKey string              `mapstructure:"error_routing_key"`
}

func (f tableFile) toTable() *Table {
	return New(f.Topics, f.Systems, f.Bindings, f.SentQueues, f.DefaultQueue, f.ErrorQueue, f.ErrorRoutingKey)
}

// LoadTable reads and validates the routing table YAML file at path.
func LoadTable(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("routing: read %q: %w", path, err)
	}

	var f tableFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("routing: decode %q: %w", path, err)
	}

	table := f.toTable()
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// WatchTable hot-reloads the routing table file on change (fsnotify via
// viper.WatchConfig). The rest of the bridge's configuration, read once by
// config.Load, is not reloaded. onChange is called with the newly
// loaded and validated table; a reload that fails validation is logged by
// the caller and the previous table stays in effect.
func WatchTable(path string, onChange func(*Table, error)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("routing: read %q: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var f tableFile
		if err := v.Unmarshal(&f); err != nil {
			onChange(nil, fmt.Errorf("routing: decode %q after change: %w", path, err))
			return
		}
		table := f.toTable()
		if err := table.Validate(); err != nil {
			onChange(nil, err)
			return
		}
		onChange(table, nil)
	})
	v.WatchConfig()
	return nil
}
