// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// Provider names, in default order.
const (
	ProviderIPAPI     = "ip-api"
	ProviderFreeGeoIP = "freegeoip"
	ProviderNekudo    = "nekudo"
	ProviderSypexGeo  = "sypexgeo"
	ProviderIPAPICo   = "ipapi.co"
)

// DefaultOrder is the order providers are tried in.
var DefaultOrder = []string{ProviderIPAPI, ProviderFreeGeoIP, ProviderNekudo, ProviderSypexGeo, ProviderIPAPICo}

type providerSpec struct {
	url     string
	convert func([]byte) (*Info, error)
}

var builtin = map[string]providerSpec{
	ProviderIPAPI:     {"http://ip-api.com/json", convertIPAPI},
	ProviderFreeGeoIP: {"http://freegeoip.net/json/", convertFreeGeoIP},
	ProviderNekudo:    {"http://geoip.nekudo.com/api/json", convertNekudo},
	ProviderSypexGeo:  {"http://api.sypexgeo.net/json", convertSypexGeo},
	ProviderIPAPICo:   {"http://ipapi.co/json", convertIPAPICo},
}

// httpProvider fetches a JSON document and maps it onto Info.
type httpProvider struct {
	name    string
	url     string
	client  *http.Client
	convert func([]byte) (*Info, error)
}

// NewProvider returns the named built-in provider. A non-empty url
// overrides its endpoint.
func NewProvider(name, url string, client *http.Client) (Provider, error) {
	spec, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown geo provider %q", name)
	}
	if url == "" {
		url = spec.url
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpProvider{name: name, url: url, client: client, convert: spec.convert}, nil
}

// Providers returns the named built-in providers in the given order. urls
// overrides a provider's endpoint by name.
func Providers(names []string, urls map[string]string, client *http.Client) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := NewProvider(name, urls[name], client)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) Lookup(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", p.name, err)
	}

	info, err := p.convert(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", p.name, err)
	}
	return info, nil
}

func convertIPAPI(body []byte) (*Info, error) {
	var d struct {
		Status      string `json:"status"`
		Query       string `json:"query"`
		City        string `json:"city"`
		Country     string `json:"country"`
		CountryCode string `json:"countryCode"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	if d.Status != "" && d.Status != "success" {
		return nil, fmt.Errorf("status %q", d.Status)
	}
	return &Info{IP: d.Query, City: d.City, Country: d.Country, CountryCode: d.CountryCode}, nil
}

func convertFreeGeoIP(body []byte) (*Info, error) {
	var d struct {
		IP          string `json:"ip"`
		City        string `json:"city"`
		CountryName string `json:"country_name"`
		CountryCode string `json:"country_code"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &Info{IP: d.IP, City: d.City, Country: d.CountryName, CountryCode: d.CountryCode}, nil
}

// nekudo and sypexgeo put the ISO code in Country and the name in
// CountryCode. Published documents have always carried them that way.
func convertNekudo(body []byte) (*Info, error) {
	var d struct {
		IP      string `json:"ip"`
		City    string `json:"city"`
		Country struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"country"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &Info{IP: d.IP, City: d.City, Country: d.Country.Code, CountryCode: d.Country.Name}, nil
}

func convertSypexGeo(body []byte) (*Info, error) {
	var d struct {
		IP   string `json:"ip"`
		City *struct {
			NameEn string `json:"name_en"`
		} `json:"city"`
		Country *struct {
			ISO    string `json:"iso"`
			NameEn string `json:"name_en"`
		} `json:"country"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	if d.City == nil || d.Country == nil {
		return nil, fmt.Errorf("missing city or country")
	}
	return &Info{IP: d.IP, City: d.City.NameEn, Country: d.Country.ISO, CountryCode: d.Country.NameEn}, nil
}

func convertIPAPICo(body []byte) (*Info, error) {
	var d struct {
		IP          string `json:"ip"`
		City        string `json:"city"`
		CountryName string `json:"country_name"`
		Country     string `json:"country"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &Info{IP: d.IP, City: d.City, Country: d.CountryName, CountryCode: d.Country}, nil
}
