package domain

import "fmt"

// Provider identifies an external advertising platform.
type Provider string

const (
	ProviderGoogleAds       Provider = "google_ads"
	ProviderGoogleAnalytics Provider = "google_analytics"
	ProviderMetaAds         Provider = "meta_ads"
	ProviderMicrosoftAds    Provider = "microsoft_ads"
)

// Providers lists every supported platform in display order.
func Providers() []Provider {
	return []Provider{
		ProviderGoogleAds,
		ProviderGoogleAnalytics,
		ProviderMetaAds,
		ProviderMicrosoftAds,
	}
}

// ParseProvider validates a provider path/query parameter.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(raw)
	switch p {
	case ProviderGoogleAds, ProviderGoogleAnalytics, ProviderMetaAds, ProviderMicrosoftAds:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
}

func (p Provider) String() string {
	return string(p)
}
