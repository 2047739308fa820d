package client

import (
	"fmt"
	"strconv"
)

func asBool(name string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, &InvalidOption{Name: name, Reason: "expected a boolean"}
		}
		return b, nil
	}
	return false, &InvalidOption{Name: name, Reason: "expected a boolean"}
}

func asInt64(name string, v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, &InvalidOption{Name: name, Reason: "expected an integer"}
		}
		return n, nil
	}
	return 0, &InvalidOption{Name: name, Reason: "expected an integer"}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// asStringList accepts a single string or a list of strings.
func asStringList(name string, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, &InvalidOption{Name: name, Reason: "expected a string list"}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &InvalidOption{Name: name, Reason: "expected a string or string list"}
}

// SetOption applies one connection option. Both hyphenated and
// underscored spellings are recognised; an unknown name is rejected.
func (c *Connection) SetOption(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setOption(name, value)
}

func (c *Connection) setOption(name string, value any) error {
	var err error
	switch name {
	case "reconnect":
		c.reconnect, err = asBool(name, value)
	case "reconnect-timeout", "reconnect_timeout":
		c.timeout, err = asInt64(name, value)
	case "reconnect-limit", "reconnect_limit":
		var n int64
		n, err = asInt64(name, value)
		c.limit = int(n)
	case "reconnect-interval", "reconnect_interval":
		var n int64
		n, err = asInt64(name, value)
		c.minReconnectInterval, c.maxReconnectInterval = n, n
	case "reconnect-interval-min", "reconnect_interval_min":
		c.minReconnectInterval, err = asInt64(name, value)
	case "reconnect-interval-max", "reconnect_interval_max":
		c.maxReconnectInterval, err = asInt64(name, value)
	case "reconnect-urls-replace", "reconnect_urls_replace":
		c.replaceUrls, err = asBool(name, value)
	case "reconnect-urls", "reconnect_urls":
		if c.replaceUrls {
			c.urls = nil
		}
		var list []string
		list, err = asStringList(name, value)
		for _, u := range list {
			c.mergeURL(u)
		}
	case "username":
		c.settings.Username = asString(value)
	case "password":
		c.settings.Password = asString(value)
	case "sasl-mechanism", "sasl_mechanism", "sasl-mechanisms", "sasl_mechanisms":
		c.settings.Mechanism = asString(value)
	case "sasl-service", "sasl_service":
		c.settings.Service = asString(value)
	case "sasl-min-ssf", "sasl_min_ssf":
		var n int64
		n, err = asInt64(name, value)
		c.settings.MinSsf = uint32(n)
	case "sasl-max-ssf", "sasl_max_ssf":
		var n int64
		n, err = asInt64(name, value)
		c.settings.MaxSsf = uint32(n)
	case "heartbeat":
		var n int64
		n, err = asInt64(name, value)
		c.settings.Heartbeat = uint16(n)
	case "tcp-nodelay", "tcp_nodelay":
		c.settings.TCPNoDelay, err = asBool(name, value)
	case "locale":
		c.settings.Locale = asString(value)
	case "max-channels", "max_channels":
		var n int64
		n, err = asInt64(name, value)
		c.settings.MaxChannels = uint16(n)
	case "max-frame-size", "max_frame_size":
		var n int64
		n, err = asInt64(name, value)
		c.settings.MaxFrame = uint32(n)
	case "bounds":
		var n int64
		n, err = asInt64(name, value)
		c.settings.Bounds = uint32(n)
	case "transport":
		c.settings.Protocol = asString(value)
	case "ssl-cert-name", "ssl_cert_name":
		c.settings.SSLCertName = asString(value)
	case "x-reconnect-on-limit-exceeded", "x_reconnect_on_limit_exceeded":
		c.reconnectOnLimitExceeded, err = asBool(name, value)
	default:
		return &InvalidOption{Name: name}
	}
	return err
}
