package discovery

import "testing"

func TestTXTRoundTrip(t *testing.T) {
	got := pathFromTXT(txtRecords("/ws"))
	if got != "/ws" {
		t.Errorf("path: got %q, want /ws", got)
	}
}

func TestPathFromTXT_Default(t *testing.T) {
	cases := [][]string{nil, {"other=1"}, {"path="}}
	for _, txt := range cases {
		if got := pathFromTXT(txt); got != "/" {
			t.Errorf("pathFromTXT(%v): got %q, want /", txt, got)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		host string
		port int
		path string
		want string
	}{
		{"192.168.1.5", 8080, "/ws", "ws://192.168.1.5:8080/ws"},
		{"fe80::1", 9000, "/sync", "ws://[fe80::1]:9000/sync"},
	}
	for _, tc := range cases {
		if got := endpointURL(tc.host, tc.port, tc.path); got != tc.want {
			t.Errorf("endpointURL(%s): got %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	a := Advertisement{Port: 8080}.withDefaults()
	if a.Service != DefaultService || a.Domain != DefaultDomain || a.Path != "/" {
		t.Errorf("got %+v", a)
	}
	if a.Instance == "" {
		t.Error("instance: want hostname-derived default")
	}

	b := Advertisement{Instance: "x", Service: "_s._tcp", Domain: "d.", Path: "/ws"}.withDefaults()
	if b.Instance != "x" || b.Service != "_s._tcp" || b.Domain != "d." || b.Path != "/ws" {
		t.Errorf("overrides lost: %+v", b)
	}
}
