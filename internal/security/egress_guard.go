// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/doyensec/safeurl"
)

// EgressGuard はリモートAPIや画像URLなど外部宛て通信の安全性を検証する。
type EgressGuard interface {
	// NewSafeClient は内部ネットワーク宛ての接続を拒否するHTTPクライアントを生成する。
	// タイムアウトは設定せず、トランスポートのデフォルトに従う。
	NewSafeClient() *http.Client

	// ValidateURL はURLのスキーム・ホスト・IPアドレスを静的に検証する。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は内部ネットワークとして拒否するアドレス範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

type egressGuard struct{}

// NewEgressGuard はEgressGuardの新しいインスタンスを生成する。
func NewEgressGuard() *egressGuard {
	return &egressGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// DNS解決後のIPもDialer側で検証されるため、DNS再バインディングも防げる。
// API_STRICT_EGRESS が有効な場合にゲートウェイのトランスポートとして使う。
func (g *egressGuard) NewSafeClient() *http.Client {
	config := safeurl.GetConfigBuilder().
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的検証を行う。
func (g *egressGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
