// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// FeedURLGuard は外部ブロックリストフィードの取得先を検証する。
type FeedURLGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// NewSafeClient はsafeurlによる接続先検証付きのHTTPクライアントを生成する。
	// DNS解決後のIPアドレスもDialerのControlフックで検証される。
	NewSafeClient(timeout time.Duration) *http.Client
}

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は取得先として許可しないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドのメタデータIPを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var blockedHostSuffixes = []string{"localhost", ".local", ".internal"}

// SSRFGuard はFeedURLGuardの実装。
type SSRFGuard struct {
	ports []int
}

// NewSSRFGuard はSSRFGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewSSRFGuard(ports ...int) *SSRFGuard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &SSRFGuard{ports: ports}
}

// NewSafeClient は許可スキーム・ポートに限定したsafeurlクライアントを返す。
// ループバック、プライベート、リンクローカル宛ての接続はsafeurlのデフォルト設定で拒否される。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(config).Client
}

// ValidateURL はフィードURLのスキーム、ホスト、ポートを検証する。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if err := g.checkPort(scheme, parsed.Port()); err != nil {
		return err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked IP address: %s", addr)
			}
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, suffix := range blockedHostSuffixes {
		if lower == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func (g *SSRFGuard) checkPort(scheme, port string) error {
	n := 80
	if scheme == "https" {
		n = 443
	}
	if port != "" {
		if _, err := fmt.Sscanf(port, "%d", &n); err != nil {
			return fmt.Errorf("invalid port: %q", port)
		}
	}
	if !slices.Contains(g.ports, n) {
		return fmt.Errorf("disallowed port: %d", n)
	}
	return nil
}

var _ FeedURLGuard = (*SSRFGuard)(nil)
