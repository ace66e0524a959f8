package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ブロック対象のアドレス範囲。
// 外部フィードの取得時に内部ネットワークへ到達しないようにする。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータを含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// URLGuard は外部URLへのアクセスを公開ネットワークに限定する。
type URLGuard struct {
	ports []int
}

// NewURLGuard はURLGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewURLGuard(ports ...int) *URLGuard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &URLGuard{ports: ports}
}

// Client はDNS解決後の接続先IPも検証するHTTPクライアントを返す。
func (g *URLGuard) Client(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(cfg).Client
}

// Validate はURLを接続前に静的に検証する。ホスト名の名前解決は行わない。
func (g *URLGuard) Validate(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host: %q", rawURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("blocked address: %s", addr)
		}
	}
	return nil
}
