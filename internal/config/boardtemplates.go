package config

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const MaxTemplateColumns = 20

type TemplateColumn struct {
	Name  string `mapstructure:"name" json:"name"`
	Color string `mapstructure:"color" json:"color"`
}

type BoardTemplate struct {
	Name    string           `mapstructure:"name" json:"name"`
	Columns []TemplateColumn `mapstructure:"columns" json:"columns"`
}

type TemplatesConfig struct {
	Templates []BoardTemplate `mapstructure:"templates"`
}

func DefaultTemplatesConfig() TemplatesConfig {
	return TemplatesConfig{
		Templates: []BoardTemplate{
			{
				Name: "kanban",
				Columns: []TemplateColumn{
					{Name: "To Do", Color: "#6b7280"},
					{Name: "In Progress", Color: "#3b82f6"},
					{Name: "Done", Color: "#22c55e"},
				},
			},
			{
				Name: "sprint",
				Columns: []TemplateColumn{
					{Name: "Backlog", Color: "#6b7280"},
					{Name: "To Do", Color: "#8b5cf6"},
					{Name: "In Progress", Color: "#3b82f6"},
					{Name: "In Review", Color: "#f59e0b"},
					{Name: "Done", Color: "#22c55e"},
				},
			},
		},
	}
}

type BoardTemplatesHolder struct {
	current atomic.Value // holds TemplatesConfig
}

func NewBoardTemplatesHolder() (*BoardTemplatesHolder, error) {
	v := viper.New()

	v.SetConfigName("templates")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tracklane/config") // Volume-mounted config
	v.AddConfigPath("/etc/tracklane")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	// env hanya untuk path override (optional)
	v.SetEnvPrefix("TRACKLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultTemplatesConfig()
		v.SetDefault("board.templates", defaults.Templates)
	}

	var cfg TemplatesConfig
	if err := v.UnmarshalKey("board", &cfg); err != nil {
		return nil, err
	}
	if err := validateTemplatesConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BoardTemplatesHolder{}
	holder.current.Store(cfg)

	// 🔥 HOT RELOAD
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TemplatesConfig
		if err := v.UnmarshalKey("board", &updated); err != nil {
			log.Printf("[board-templates] reload failed: %v", err)
			return
		}
		if err := validateTemplatesConfig(updated); err != nil {
			log.Printf("[board-templates] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[board-templates] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BoardTemplatesHolder) Get() TemplatesConfig {
	return h.current.Load().(TemplatesConfig)
}

// Find returns the named template, or false when it does not exist.
func (h *BoardTemplatesHolder) Find(name string) (BoardTemplate, bool) {
	for _, tpl := range h.Get().Templates {
		if strings.EqualFold(tpl.Name, name) {
			return tpl, true
		}
	}
	return BoardTemplate{}, false
}

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func validateTemplatesConfig(cfg TemplatesConfig) error {
	if len(cfg.Templates) == 0 {
		return errors.New("board.templates cannot be empty")
	}
	seen := make(map[string]bool, len(cfg.Templates))
	for _, tpl := range cfg.Templates {
		name := strings.ToLower(strings.TrimSpace(tpl.Name))
		if name == "" {
			return errors.New("board.templates entries need a name")
		}
		if seen[name] {
			return fmt.Errorf("board.templates duplicated: %s", tpl.Name)
		}
		seen[name] = true
		if len(tpl.Columns) == 0 || len(tpl.Columns) > MaxTemplateColumns {
			return fmt.Errorf("template %s must have between 1 and %d columns", tpl.Name, MaxTemplateColumns)
		}
		for _, col := range tpl.Columns {
			if strings.TrimSpace(col.Name) == "" {
				return fmt.Errorf("template %s has a column without a name", tpl.Name)
			}
			if col.Color != "" && !hexColorRe.MatchString(col.Color) {
				return fmt.Errorf("template %s column %s: color must be #RRGGBB", tpl.Name, col.Name)
			}
		}
	}
	return nil
}
