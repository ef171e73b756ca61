package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"infoportal/internal/errs"
)

const (
	nominatimEndpoint = "https://nominatim.openstreetmap.org/reverse"
	openCageEndpoint  = "https://api.opencagedata.com/geocode/v1/json"
)

// Geocoder resolves a coordinate to an ISO country code. Nominatim first
// (no key required), OpenCage as fallback when a key is configured.
type Geocoder struct {
	hc          *http.Client
	openCageKey string
}

func NewGeocoder(openCageKey string) *Geocoder {
	return &Geocoder{
		hc:          &http.Client{Timeout: 10 * time.Second},
		openCageKey: openCageKey,
	}
}

func (g *Geocoder) ISOCode(ctx context.Context, lat, lon float64) (string, error) {
	code, primaryErr := g.nominatim(ctx, lat, lon)
	if primaryErr == nil && code != "" {
		return code, nil
	}
	if g.openCageKey == "" {
		if primaryErr != nil {
			return "", primaryErr
		}
		return "", nil
	}

	code, err := g.openCage(ctx, lat, lon)
	if err != nil {
		if primaryErr != nil {
			return "", errs.Wrapf(primaryErr, "both geocoding providers failed (%v)", err)
		}
		return "", err
	}
	return code, nil
}

func (g *Geocoder) nominatim(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{
		"lat":    {fmt.Sprintf("%f", lat)},
		"lon":    {fmt.Sprintf("%f", lon)},
		"format": {"json"},
	}

	var out struct {
		Address struct {
			CountryCode string `json:"country_code"`
		} `json:"address"`
	}
	if err := g.getJSON(ctx, nominatimEndpoint+"?"+query.Encode(), &out); err != nil {
		return "", err
	}
	return strings.ToUpper(out.Address.CountryCode), nil
}

func (g *Geocoder) openCage(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{
		"q":   {fmt.Sprintf("%f+%f", lat, lon)},
		"key": {g.openCageKey},
	}

	var out struct {
		Results []struct {
			Components struct {
				ISOCode string `json:"ISO_3166-1_alpha-2"`
			} `json:"components"`
		} `json:"results"`
	}
	if err := g.getJSON(ctx, openCageEndpoint+"?"+query.Encode(), &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].Components.ISOCode, nil
}

func (g *Geocoder) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errs.Wrap(err, "build geocoding request")
	}
	req.Header.Set("User-Agent", "infoportal")

	resp, err := g.hc.Do(req)
	if err != nil {
		return errs.Wrap(err, "call geocoding provider")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoding provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errs.Wrap(err, "decode geocoding response")
	}
	return nil
}
