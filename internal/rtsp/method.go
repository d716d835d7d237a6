package rtsp

type Method string

const (
	MethodAnnounce     Method = "ANNOUNCE"
	MethodDescribe     Method = "DESCRIBE"
	MethodGetParameter Method = "GET_PARAMETER"
	MethodOptions      Method = "OPTIONS"
	MethodPause        Method = "PAUSE"
	MethodPlay         Method = "PLAY"
	MethodRecord       Method = "RECORD"
	MethodRedirect     Method = "REDIRECT"
	MethodSetParameter Method = "SET_PARAMETER"
	MethodSetup        Method = "SETUP"
	MethodTeardown     Method = "TEARDOWN"
)

var methods = map[Method]struct{}{
	MethodAnnounce:     {},
	MethodDescribe:     {},
	MethodGetParameter: {},
	MethodOptions:      {},
	MethodPause:        {},
	MethodPlay:         {},
	MethodRecord:       {},
	MethodRedirect:     {},
	MethodSetParameter: {},
	MethodSetup:        {},
	MethodTeardown:     {},
}

func (m Method) String() string {
	return string(m)
}

// Valid reports whether m is one of the methods defined by RFC 2326.
func (m Method) Valid() bool {
	_, ok := methods[m]
	return ok
}
