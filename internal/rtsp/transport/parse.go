package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads every Transport header value. Each value may itself list
// several comma separated transport specifications.
func Parse(values []string) (Header, error) {
	var opts []Option
	for _, value := range values {
		for _, spec := range strings.Split(value, ",") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			o, err := parseOption(spec)
			if err != nil {
				return nil, err
			}
			opts = append(opts, o)
		}
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("%w: empty transport header", ErrMalformedParameter)
	}

	return &header{options: opts}, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{}
	switch strings.ToUpper(parts[0]) {
	case "RTP/AVP", "RTP/AVP/UDP":
		opt.protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		opt.protocol = ProtocolTCP
	default:
		return nil, ErrUnsupportedTransport
	}

	for _, part := range parts[1:] {
		name, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		switch name {
		case "":
			continue
		case "unicast":
			opt.unicast = true
			continue
		case "multicast":
			opt.unicast = false
			continue
		case "append":
			opt.params = append(opt.params, Append{})
			continue
		case "destination":
			opt.params = append(opt.params, Destination(value))
			continue
		}

		if !hasValue {
			return nil, fmt.Errorf("%w: %s expects a value", ErrMalformedParameter, name)
		}

		param, err := parseValue(name, value)
		if err != nil {
			return nil, err
		}
		if param != nil {
			opt.params = append(opt.params, param)
		}
	}
	return opt, nil
}

func parseValue(name, value string) (Parameter, error) {
	switch name {
	case "interleaved":
		r, err := parseRange(name, value)
		return Interleaved(r), err
	case "port":
		r, err := parseRange(name, value)
		return Port(r), err
	case "client_port":
		r, err := parseRange(name, value)
		return ClientPort(r), err
	case "server_port":
		r, err := parseRange(name, value)
		return ServerPort(r), err
	case "ttl":
		hops, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TTL value: %w", err)
		}
		return TTL(hops), nil
	case "layers":
		layers, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse layers value: %w", err)
		}
		return Layers(layers), nil
	case "ssrc":
		ssrc, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssrc value: %w", err)
		}
		return SSRC(ssrc), nil
	case "mode":
		mode, err := strconv.Unquote(value)
		if err != nil {
			mode = value
		}
		return Mode(mode), nil
	}
	// unknown parameters are ignored as RFC 2326 requires
	return nil, nil
}

func parseRange(name, value string) (Range, error) {
	var r Range
	for _, bound := range strings.SplitN(value, "-", 2) {
		n, err := strconv.Atoi(bound)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s, received %s: %w", name, value, err)
		}
		r = append(r, n)
	}
	return r, nil
}
