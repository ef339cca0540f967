package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mizanapps/salahguard/internal/domain"
)

const (
	defaultBaseURL = "https://api.aladhan.com"
	clientTimeout  = 15 * time.Second
)

// timingsResponse is the calculator's wire format: five HH:MM local
// strings per (location, date).
type timingsResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
	} `json:"data"`
}

// Client fetches prayer times from the external calculation service.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	loc     *time.Location
}

// NewClient creates a calculator client. tz is the local timezone the
// HH:MM strings are interpreted in.
func NewClient(baseURL string, tz *time.Location) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if tz == nil {
		tz = time.Local
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = clientTimeout
	rc.Logger = nil // zap handles logging at the caller

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(baseURL, "/"),
		loc:     tz,
	}
}

// Compute fetches the five prayer times for one location and day,
// converting the HH:MM strings to absolute timestamps.
func (c *Client) Compute(ctx context.Context, loc domain.Location, day time.Time) ([]domain.PrayerTime, error) {
	url := fmt.Sprintf("%s/v1/timings/%s?latitude=%f&longitude=%f",
		c.baseURL, day.Format("02-01-2006"), loc.Lat, loc.Lon)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build timings request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timings request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read timings response: %w", err)
	}

	var parsed timingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode timings response: %w", err)
	}

	return c.toPrayerTimes(parsed.Data.Timings, day)
}

// toPrayerTimes converts the five named HH:MM strings to PrayerTime
// entries, sorted by instant.
func (c *Client) toPrayerTimes(timings map[string]string, day time.Time) ([]domain.PrayerTime, error) {
	times := make([]domain.PrayerTime, 0, 5)
	for _, name := range domain.AllPrayers() {
		raw, ok := timings[string(name)]
		if !ok {
			return nil, fmt.Errorf("timings response missing %s", name)
		}

		at, err := parseClock(raw, day, c.loc)
		if err != nil {
			return nil, fmt.Errorf("bad time for %s: %w", name, err)
		}
		times = append(times, domain.PrayerTime{Name: name, At: at})
	}

	sort.Slice(times, func(i, j int) bool { return times[i].At.Before(times[j].At) })
	return times, nil
}

// parseClock combines an "HH:MM" string (the service may append a zone
// suffix like "05:12 (EET)") with the calendar day in tz.
func parseClock(raw string, day time.Time, tz *time.Location) (time.Time, error) {
	clock := strings.TrimSpace(raw)
	if i := strings.IndexByte(clock, ' '); i > 0 {
		clock = clock[:i]
	}

	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, tz), nil
}

// Ensure Client implements domain.ScheduleSource.
var _ domain.ScheduleSource = (*Client)(nil)
