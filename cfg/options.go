package cfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxpert/waljson/framer"
	"github.com/maxpert/waljson/selector"
	"github.com/rs/zerolog/log"
)

// Option is one name=value pair passed when a replication stream starts.
// A nil Value means the option was given without a value.
type Option struct {
	Name  string
	Value *string
}

// ParseOptionString splits "name=value". Without "=" the value is nil.
func ParseOptionString(s string) Option {
	name, value, ok := strings.Cut(s, "=")
	opt := Option{Name: strings.TrimSpace(name)}
	if ok {
		opt.Value = &value
	}
	return opt
}

// ParseOptionStrings applies ParseOptionString to every element.
func ParseOptionStrings(list []string) []Option {
	opts := make([]Option, 0, len(list))
	for _, s := range list {
		opts = append(opts, ParseOptionString(s))
	}
	return opts
}

// RuleDirective is one include-table or exclude-table option, in the order
// given.
type RuleDirective struct {
	Exclude bool
	Value   string
}

// EncoderOptions is the parsed per-session encoder configuration.
type EncoderOptions struct {
	FormatVersion int

	IncludeTransaction    bool
	IncludeXids           bool
	IncludeTimestamp      bool
	IncludeLSN            bool
	IncludeSchemas        bool
	IncludeTypes          bool
	IncludeTypeOids       bool
	IncludeTypmod         bool
	IncludeNotNull        bool
	IncludePK             bool
	IncludeUnchangedToast bool
	ColumnsAsMap          bool
	PrettyPrint           bool
	WriteInChunks         bool
	SkipEmptyXacts        bool

	// TableSelection is set once filter-tables or add-tables is given.
	TableSelection bool
	FilterTables   []selector.Table
	AddTables      []selector.Table

	FilterMsgPrefixes []string
	AddMsgPrefixes    []string

	TableRules []RuleDirective
}

// DefaultEncoderOptions returns the options of a session started without any.
func DefaultEncoderOptions() EncoderOptions {
	return EncoderOptions{
		FormatVersion:      1,
		IncludeTransaction: true,
		IncludeSchemas:     true,
		IncludeTypes:       true,
		IncludeTypmod:      true,
		AddTables:          selector.AllTables(),
	}
}

// FramerOptions projects the options the framer needs.
func (o *EncoderOptions) FramerOptions() framer.Options {
	return framer.Options{
		Pretty:             o.PrettyPrint,
		WriteInChunks:      o.WriteInChunks,
		IncludeXids:        o.IncludeXids,
		IncludeTimestamp:   o.IncludeTimestamp,
		IncludeLSN:         o.IncludeLSN,
		IncludeSchemas:     o.IncludeSchemas,
		IncludeTypes:       o.IncludeTypes,
		IncludeTypeOids:    o.IncludeTypeOids,
		IncludeNotNull:     o.IncludeNotNull,
		IncludeTransaction: o.IncludeTransaction,
		IncludePK:          o.IncludePK,
		ColumnsAsMap:       o.ColumnsAsMap,
	}
}

// OptionError reports an option that cannot be applied.
type OptionError struct {
	Name  string
	Value *string
	Err   error
}

func (e *OptionError) Error() string {
	value := "(null)"
	if e.Value != nil {
		value = *e.Value
	}
	return fmt.Sprintf("option %q = %q: %v", e.Name, value, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

type optionSetter func(o *EncoderOptions, value *string) error

func boolOption(field func(o *EncoderOptions) *bool) optionSetter {
	return func(o *EncoderOptions, value *string) error {
		if value == nil {
			*field(o) = true
			return nil
		}
		b, ok := ParseBool(*value)
		if !ok {
			return fmt.Errorf("could not parse %q as a boolean", *value)
		}
		*field(o) = b
		return nil
	}
}

// ignoredOption accepts a boolean the encoder has no data for.
func ignoredOption(name string) optionSetter {
	var sink bool
	parse := boolOption(func(*EncoderOptions) *bool { return &sink })
	return func(o *EncoderOptions, value *string) error {
		if err := parse(o, value); err != nil {
			return err
		}
		log.Warn().Str("option", name).Msg("Option is accepted but has no effect")
		return nil
	}
}

func requireValue(value *string) (string, error) {
	if value == nil {
		return "", fmt.Errorf("a value is required")
	}
	return *value, nil
}

var optionSetters = map[string]optionSetter{
	"include-transaction":     boolOption(func(o *EncoderOptions) *bool { return &o.IncludeTransaction }),
	"include-xids":            boolOption(func(o *EncoderOptions) *bool { return &o.IncludeXids }),
	"include-timestamp":       boolOption(func(o *EncoderOptions) *bool { return &o.IncludeTimestamp }),
	"include-lsn":             boolOption(func(o *EncoderOptions) *bool { return &o.IncludeLSN }),
	"include-schemas":         boolOption(func(o *EncoderOptions) *bool { return &o.IncludeSchemas }),
	"include-types":           boolOption(func(o *EncoderOptions) *bool { return &o.IncludeTypes }),
	"include-type-oids":       boolOption(func(o *EncoderOptions) *bool { return &o.IncludeTypeOids }),
	"include-typmod":          boolOption(func(o *EncoderOptions) *bool { return &o.IncludeTypmod }),
	"include-not-null":        boolOption(func(o *EncoderOptions) *bool { return &o.IncludeNotNull }),
	"include-pk":              boolOption(func(o *EncoderOptions) *bool { return &o.IncludePK }),
	"include-unchanged-toast": boolOption(func(o *EncoderOptions) *bool { return &o.IncludeUnchangedToast }),
	"columns-as-map":          boolOption(func(o *EncoderOptions) *bool { return &o.ColumnsAsMap }),
	"pretty-print":            boolOption(func(o *EncoderOptions) *bool { return &o.PrettyPrint }),
	"write-in-chunks":         boolOption(func(o *EncoderOptions) *bool { return &o.WriteInChunks }),
	"skip-empty-xacts":        boolOption(func(o *EncoderOptions) *bool { return &o.SkipEmptyXacts }),
	"include-xmins":           ignoredOption("include-xmins"),
	"include-next-xids":       ignoredOption("include-next-xids"),

	"format-version": func(o *EncoderOptions, value *string) error {
		raw, err := requireValue(value)
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("could not parse %q as an integer", raw)
		}
		if v < framer.MinFormatVersion || v > framer.MaxFormatVersion {
			return &framer.UnsupportedVersionError{Version: v}
		}
		o.FormatVersion = v
		return nil
	},

	"filter-tables": func(o *EncoderOptions, value *string) error {
		o.TableSelection = true
		if value == nil {
			o.FilterTables = nil
			return nil
		}
		tables, err := selector.ParseTables(*value)
		if err != nil {
			return err
		}
		o.FilterTables = append(o.FilterTables, tables...)
		return nil
	},

	// add-tables replaces the default "every table" entry
	"add-tables": func(o *EncoderOptions, value *string) error {
		o.TableSelection = true
		o.AddTables = nil
		if value == nil {
			return nil
		}
		tables, err := selector.ParseTables(*value)
		if err != nil {
			return err
		}
		o.AddTables = tables
		return nil
	},

	"filter-msg-prefixes": func(o *EncoderOptions, value *string) error {
		raw, err := requireValue(value)
		if err != nil {
			return err
		}
		prefixes, err := selector.SplitList(raw)
		if err != nil {
			return err
		}
		o.FilterMsgPrefixes = append(o.FilterMsgPrefixes, prefixes...)
		return nil
	},

	"add-msg-prefixes": func(o *EncoderOptions, value *string) error {
		raw, err := requireValue(value)
		if err != nil {
			return err
		}
		prefixes, err := selector.SplitList(raw)
		if err != nil {
			return err
		}
		o.AddMsgPrefixes = append(o.AddMsgPrefixes, prefixes...)
		return nil
	},

	"include-table": func(o *EncoderOptions, value *string) error {
		raw, err := requireValue(value)
		if err != nil {
			return err
		}
		o.TableRules = append(o.TableRules, RuleDirective{Value: raw})
		return nil
	},

	"exclude-table": func(o *EncoderOptions, value *string) error {
		raw, err := requireValue(value)
		if err != nil {
			return err
		}
		o.TableRules = append(o.TableRules, RuleDirective{Exclude: true, Value: raw})
		return nil
	},
}

// ParseOptions applies opts in order over the defaults. An unknown option or a
// value that cannot be parsed is an error.
func ParseOptions(opts []Option) (EncoderOptions, error) {
	o := DefaultEncoderOptions()
	for _, opt := range opts {
		setter, ok := optionSetters[opt.Name]
		if !ok {
			return EncoderOptions{}, &OptionError{Name: opt.Name, Value: opt.Value, Err: fmt.Errorf("unknown option")}
		}
		if err := setter(&o, opt.Value); err != nil {
			return EncoderOptions{}, &OptionError{Name: opt.Name, Value: opt.Value, Err: err}
		}
	}

	if o.TableSelection && len(o.TableRules) > 0 {
		return EncoderOptions{}, fmt.Errorf("filter-tables/add-tables cannot be combined with include-table/exclude-table")
	}
	if o.PrettyPrint && o.FormatVersion == 2 {
		log.Debug().Msg("pretty-print keeps format version 2 records on one line")
	}
	return o, nil
}

// ParseBool parses the boolean spellings PostgreSQL accepts: any prefix of
// true, false, yes or no, on, off (at least two letters for on/off), 1 and 0.
// Case is ignored.
func ParseBool(s string) (value bool, ok bool) {
	if s == "" {
		return false, false
	}
	lower := strings.ToLower(s)
	switch lower[0] {
	case 't':
		return true, strings.HasPrefix("true", lower)
	case 'f':
		return false, strings.HasPrefix("false", lower)
	case 'y':
		return true, strings.HasPrefix("yes", lower)
	case 'n':
		return false, strings.HasPrefix("no", lower)
	case 'o':
		if len(lower) < 2 {
			return false, false
		}
		if strings.HasPrefix("on", lower) {
			return true, true
		}
		return false, strings.HasPrefix("off", lower)
	case '1':
		return true, len(lower) == 1
	case '0':
		return false, len(lower) == 1
	}
	return false, false
}
