// artcache uses flags and a single config file for configuration.
// The config file is HuJSON (JSON with comments and trailing commas). Every leaf names the flag it sets, and objects
// only group related flags, e.g. {"disk": {"disk_cache_dir": "/var/cache/art"}} sets -disk_cache_dir.

package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/tailscale/hujson"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// parseConfig decodes a HuJSON document into a protobuf Struct.
func parseConfig(data []byte) (*structpb.Struct, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid HuJSON: %w", err)
	}
	conf := new(structpb.Struct)
	if err := protojson.Unmarshal(standardized, conf); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	return conf, nil
}

// valueToString converts a config leaf to its string representation suitable for flag setting.
func valueToString(v *structpb.Value) (string, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_ListValue:
		return "", fmt.Errorf("lists are not supported")
	case *structpb.Value_NullValue:
		return "", fmt.Errorf("null is not a flag value")
	default:
		return "", fmt.Errorf("unsupported value kind %T", kind)
	}
}

// collectFlagValues flattens `conf` into flag values keyed by flag name. Nested objects are walked recursively and
// a flag set twice is an error. Fields are visited in name order so errors are deterministic.
func collectFlagValues(conf *structpb.Struct, flags map[ /*flagName*/ string] /*flagValue*/ string) error {
	fields := conf.GetFields()
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		value := fields[name]
		if nested := value.GetStructValue(); nested != nil {
			if err := collectFlagValues(nested, flags); err != nil {
				return err
			}
			continue
		}
		if _, duplicate := flags[name]; duplicate {
			return fmt.Errorf("flag %s is set more than once", name)
		}
		stringValue, err := valueToString(value)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", name, err)
		}
		flags[name] = stringValue
	}
	return nil
}
