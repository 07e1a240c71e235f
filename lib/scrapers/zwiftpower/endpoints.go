package zwiftpower

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"dzr-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// GetTeamRiders fetches the raw roster entries for a club. Entries are
// returned undecoded so the ingestion layer can skip malformed riders
// one at a time.
func (c *Client) GetTeamRiders(ctx context.Context, clubId int) ([]json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "client:GetTeamRiders")
	defer span.End()
	span.SetAttributes(attribute.Int("club_id", clubId))

	err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"do": "team_riders",
			"id": strconv.Itoa(clubId),
		}).
		Get("/api3.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch team riders")
		return nil, err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("team_riders: unexpected status %d", res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal team riders")
		return nil, err
	}
	return payload.Data, nil
}

// GetTeamResults fetches the recent result rows for a club plus the
// event metadata keyed by event id. Rows that don't decode are dropped
// individually, never the whole payload.
func (c *Client) GetTeamResults(ctx context.Context, clubId int) (*TeamResults, error) {
	ctx, span := tracer.Start(ctx, "client:GetTeamResults")
	defer span.End()
	span.SetAttributes(attribute.Int("club_id", clubId))

	err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"do": "team_results",
			"id": strconv.Itoa(clubId),
		}).
		Get("/api3.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch team results")
		return nil, err
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("team_results: unexpected status %d", res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var wire teamResultsWire
	err = json.Unmarshal(res.Body(), &wire)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal team results")
		return nil, err
	}

	results := &TeamResults{
		Events: wire.Events,
	}
	if results.Events == nil {
		results.Events = map[string]EventMeta{}
	}
	dropped := 0
	for _, raw := range wire.Data {
		var rowWire resultRowWire
		err := json.Unmarshal(raw, &rowWire)
		if err != nil {
			dropped++
			continue
		}
		row, ok := rowWire.toRow()
		if !ok {
			dropped++
			continue
		}
		results.Rows = append(results.Rows, row)
	}
	if dropped > 0 {
		slog.DebugContext(ctx, "dropped malformed result rows", "count", dropped)
		span.SetAttributes(attribute.Int("dropped_rows", dropped))
	}

	return results, nil
}

// GetRiderProfile fetches the cached profile JSON for a rider. A 404
// means ZwiftPower doesn't know the rider and yields (nil, nil).
func (c *Client) GetRiderProfile(ctx context.Context, riderId int64) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "client:GetRiderProfile")
	defer span.End()
	span.SetAttributes(attribute.Int64("rider_id", riderId))

	err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/cache3/profile/%d_all.json", riderId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch rider profile")
		return nil, err
	}
	if res.StatusCode() == 404 {
		return nil, nil
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("rider profile: unexpected status %d", res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return json.RawMessage(res.Body()), nil
}

// GetRiderRacingScore scrapes the rider profile page for the labeled
// racing score cell. Returns nil when the page has no score.
func (c *Client) GetRiderRacingScore(ctx context.Context, riderId int64) (*float64, error) {
	ctx, span := tracer.Start(ctx, "client:GetRiderRacingScore")
	defer span.End()
	span.SetAttributes(attribute.Int64("rider_id", riderId))

	err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("z", strconv.FormatInt(riderId, 10)).
		Get("/profile.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch rider profile page")
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse rider profile page")
		return nil, err
	}

	var score *float64
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if len(th.Nodes) == 0 {
			return true
		}
		label := htmlutil.CleanText(htmlutil.GetText(th.Nodes[0]))
		if !strings.Contains(label, "Zwift Racing Score") {
			return true
		}
		text := htmlutil.CleanText(th.Parent().Find("td b").First().Text())
		value, err := strconv.ParseFloat(text, 64)
		if err == nil {
			score = &value
		}
		return false
	})
	return score, nil
}
