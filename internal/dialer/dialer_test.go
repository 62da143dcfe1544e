package dialer

import (
	"reflect"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hop      string
		wantType any
		wantAddr string
		wantErr  bool
	}{
		{
			name:     "direct",
			hop:      "direct://",
			wantType: &directDialer{},
		},
		{
			name:     "socks5 default port",
			hop:      "socks5://hop.example",
			wantType: &SOCKS5ProxyDialer{},
			wantAddr: "hop.example:1080",
		},
		{
			name:     "socks5 with credentials",
			hop:      "socks5://u:p@hop.example:9050",
			wantType: &SOCKS5ProxyDialer{},
			wantAddr: "hop.example:9050",
		},
		{
			name:     "scheme case-insensitive",
			hop:      "SOCKS5://hop.example:1080",
			wantType: &SOCKS5ProxyDialer{},
			wantAddr: "hop.example:1080",
		},
		{
			name:    "leading/trailing spaces are invalid",
			hop:     "  socks5://hop.example:1080 ",
			wantErr: true,
		},
		{
			name:    "http hop unsupported",
			hop:     "http://proxy.example:3128",
			wantErr: true,
		},
		{
			name:    "missing scheme",
			hop:     "example.com:80",
			wantErr: true,
		},
		{
			name:    "missing host",
			hop:     "socks5://",
			wantErr: true,
		},
		{
			name:    "non-empty path",
			hop:     "socks5://example.com/foo",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := New(Config{}, tt.hop)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if d == nil {
				t.Fatal("got nil dialer")
			}
			if gotType, wantType := reflect.TypeOf(d), reflect.TypeOf(tt.wantType); gotType != wantType {
				t.Fatalf("got %s want %s", gotType, wantType)
			}
			if s, ok := d.(*SOCKS5ProxyDialer); ok && s.proxyAddr != tt.wantAddr {
				t.Fatalf("got addr %q want %q", s.proxyAddr, tt.wantAddr)
			}
		})
	}
}
