package integration

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Kind names the external platform an integration talks to.
type Kind string

const (
	// KindShopify is the only supported commerce platform.
	KindShopify Kind = "shopify"
)

var (
	// ErrNotFound indicates that no integration matched the lookup.
	ErrNotFound = errors.New("integration: not found")
	// ErrInvalidKind indicates an unsupported integration kind.
	ErrInvalidKind = errors.New("integration: unsupported kind")
	// ErrMissingShopDomain indicates that a shop domain is required.
	ErrMissingShopDomain = errors.New("integration: shop domain required")
	// ErrMissingAccessToken indicates that the credential blob carries no access token.
	ErrMissingAccessToken = errors.New("integration: access token required")
)

// Credentials is the decoded form of the opaque credential blob.
type Credentials struct {
	AccessToken string `json:"access_token"`
}

// Integration is one tenant's credential set for one external platform.
type Integration struct {
	ID          string            `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID   string            `gorm:"column:account_id;size:190;not null;index"`
	Kind        Kind              `gorm:"column:kind;size:32;not null;index:idx_integrations_kind_domain,priority:1"`
	ShopDomain  string            `gorm:"column:shop_domain;size:255;not null;index:idx_integrations_kind_domain,priority:2"`
	Credentials []byte            `gorm:"column:credentials;type:blob" json:"-"`
	Settings    datatypes.JSONMap `gorm:"column:settings"`
	Active      bool              `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   gorm.DeletedAt    `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Integration) TableName() string {
	return "integrations"
}

// AccessToken decodes the credential blob and returns the platform access token.
func (i Integration) AccessToken() (string, error) {
	if len(i.Credentials) == 0 {
		return "", ErrMissingAccessToken
	}
	var credentials Credentials
	if err := json.Unmarshal(i.Credentials, &credentials); err != nil {
		return "", err
	}
	token := strings.TrimSpace(credentials.AccessToken)
	if token == "" {
		return "", ErrMissingAccessToken
	}
	return token, nil
}

// Setting returns a string setting or the fallback when absent.
func (i Integration) Setting(key, fallback string) string {
	if i.Settings == nil {
		return fallback
	}
	value, ok := i.Settings[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// NormalizeShopDomain reduces raw input such as "https://My-Shop.myshopify.com/admin" or "my-shop"
// to the canonical "my-shop.myshopify.com" form used for webhook routing.
func NormalizeShopDomain(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	if strings.Contains(value, "://") {
		if parsed, err := url.Parse(value); err == nil && parsed.Host != "" {
			value = parsed.Host
		}
	}
	if slash := strings.Index(value, "/"); slash >= 0 {
		value = value[:slash]
	}
	value = strings.Trim(value, ".")
	if value == "" {
		return ""
	}
	return goshopify.ShopFullName(value)
}
