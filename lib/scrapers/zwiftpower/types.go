package zwiftpower

import (
	"encoding/json"
	"strconv"
	"strings"
)

type EventMeta struct {
	Title string `json:"title"`
}

// ResultRow is one rider finishing one event. Power values have
// already been converted from the wire's [value, flag] list shape into
// plain optional numbers.
type ResultRow struct {
	RiderName          string
	RiderId            int64
	EventId            string
	EventType          string
	PositionInCategory *int
	PowerToWeight1Min  *float64
	PowerToWeight5Min  *float64
	PowerToWeight20Min *float64
}

// IsRace reports whether the row belongs to an actual race as opposed
// to group rides, workouts and other non-competitive activity types.
func (r ResultRow) IsRace() bool {
	return strings.Contains(strings.ToUpper(r.EventType), "RACE")
}

type TeamResults struct {
	Events map[string]EventMeta
	Rows   []ResultRow
}

type teamResultsWire struct {
	Events map[string]EventMeta `json:"events"`
	Data   []json.RawMessage    `json:"data"`
}

type resultRowWire struct {
	Name          string     `json:"name"`
	Zwid          WireId     `json:"zwid"`
	Zid           WireId     `json:"zid"`
	EventType     string     `json:"f_t"`
	PositionInCat *int       `json:"position_in_cat"`
	Wkg1          powerValue `json:"wkg1"`
	Wkg5          powerValue `json:"wkg5"`
	Wkg20         powerValue `json:"wkg20"`
}

// WireId tolerates the id fields ZwiftPower serves inconsistently as
// either JSON numbers or strings. Junk decodes to empty and the row
// validity check catches it.
type WireId string

func (w *WireId) UnmarshalJSON(data []byte) error {
	var number json.Number
	if json.Unmarshal(data, &number) == nil {
		*w = WireId(number.String())
		return nil
	}
	var s string
	if json.Unmarshal(data, &s) == nil {
		*w = WireId(s)
	}
	return nil
}

func (w WireId) Int64() (int64, error) {
	return strconv.ParseInt(string(w), 10, 64)
}

// powerValue decodes the [value, flag] list the results endpoint uses
// for w/kg metrics. The first element is a numeric string when the
// value exists; anything else means absent. Decoding never fails so a
// junk metric doesn't take its whole row down.
type powerValue struct {
	value *float64
}

func (p *powerValue) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if json.Unmarshal(data, &list) != nil || len(list) == 0 {
		return nil
	}

	var asString string
	if json.Unmarshal(list[0], &asString) == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(asString), 64)
		if err == nil {
			p.value = &v
		}
		return nil
	}

	var asNumber float64
	if json.Unmarshal(list[0], &asNumber) == nil {
		p.value = &asNumber
	}
	return nil
}

func (w resultRowWire) toRow() (ResultRow, bool) {
	riderId, err := w.Zwid.Int64()
	if err != nil || w.Name == "" || w.Zid == "" {
		return ResultRow{}, false
	}
	return ResultRow{
		RiderName:          w.Name,
		RiderId:            riderId,
		EventId:            string(w.Zid),
		EventType:          w.EventType,
		PositionInCategory: w.PositionInCat,
		PowerToWeight1Min:  w.Wkg1.value,
		PowerToWeight5Min:  w.Wkg5.value,
		PowerToWeight20Min: w.Wkg20.value,
	}, true
}
