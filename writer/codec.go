package writer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"atmflow/models"
)

// Codec turns a day's records into a persisted object and back. day is the
// date the object was loaded for; formats without a date column use it.
type Codec[R Record] interface {
	Encode(records []R) ([]byte, error)
	Decode(data []byte, day string) ([]R, error)
}

// csvDecimal renders a nullable decimal as an empty cell when absent.
type csvDecimal struct {
	decimal.NullDecimal
}

func (d csvDecimal) MarshalCSV() (string, error) {
	if !d.Valid {
		return "", nil
	}
	return d.Decimal.String(), nil
}

func (d *csvDecimal) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		d.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	d.NullDecimal = decimal.NewNullDecimal(v)
	return nil
}

func nullOf(d decimal.Decimal) csvDecimal {
	return csvDecimal{decimal.NewNullDecimal(d)}
}

func (d csvDecimal) orZero() decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func isBlank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}

type oiRow struct {
	Date     string `csv:"date"`
	Time     string `csv:"time"`
	CEChange int64  `csv:"CE_change"`
	PEChange int64  `csv:"PE_change"`
}

type oiTotalsRow struct {
	Date      string `csv:"date"`
	Time      string `csv:"time"`
	CEChange  int64  `csv:"CE_change"`
	PEChange  int64  `csv:"PE_change"`
	CEOITotal int64  `csv:"CE_OI_total"`
	PEOITotal int64  `csv:"PE_OI_total"`
}

// OICodec writes date,time,CE_change,PE_change and, with totals, the OI sums.
// Decoding accepts either header.
type OICodec struct {
	IncludeTotals bool
}

func (c OICodec) Encode(records []models.OIRecord) ([]byte, error) {
	if c.IncludeTotals {
		rows := make([]oiTotalsRow, 0, len(records))
		for _, r := range records {
			rows = append(rows, oiTotalsRow{r.Date, r.Time, r.CEChange, r.PEChange, r.CEOITotal, r.PEOITotal})
		}
		return gocsv.MarshalBytes(&rows)
	}
	rows := make([]oiRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, oiRow{r.Date, r.Time, r.CEChange, r.PEChange})
	}
	return gocsv.MarshalBytes(&rows)
}

func (c OICodec) Decode(data []byte, _ string) ([]models.OIRecord, error) {
	if isBlank(data) {
		return nil, nil
	}
	var rows []oiTotalsRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("decode oi csv: %w", err)
	}
	out := make([]models.OIRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.OIRecord{
			Date:      r.Date,
			Time:      r.Time,
			CEChange:  r.CEChange,
			PEChange:  r.PEChange,
			CEOITotal: r.CEOITotal,
			PEOITotal: r.PEOITotal,
		})
	}
	return out, nil
}

type momentumRow struct {
	Time      string     `csv:"time"`
	SpotDelta csvDecimal `csv:"spot_delta"`
	CEDelta   csvDecimal `csv:"ce_delta"`
	PEDelta   csvDecimal `csv:"pe_delta"`
}

// MomentumCodec writes time,spot_delta,ce_delta,pe_delta. The file carries no
// date; records take the day they were loaded for.
type MomentumCodec struct{}

func (MomentumCodec) Encode(records []models.MomentumRecord) ([]byte, error) {
	rows := make([]momentumRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, momentumRow{
			Time:      r.Time,
			SpotDelta: nullOf(r.SpotDelta),
			CEDelta:   nullOf(r.CEDelta),
			PEDelta:   nullOf(r.PEDelta),
		})
	}
	return gocsv.MarshalBytes(&rows)
}

func (MomentumCodec) Decode(data []byte, day string) ([]models.MomentumRecord, error) {
	if isBlank(data) {
		return nil, nil
	}
	var rows []momentumRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("decode momentum csv: %w", err)
	}
	out := make([]models.MomentumRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.MomentumRecord{
			Date:        day,
			Time:        r.Time,
			SpotDelta:   r.SpotDelta.orZero(),
			CEDelta:     r.CEDelta.orZero(),
			PEDelta:     r.PEDelta.orZero(),
			RealDeltaCE: decimal.Zero,
			RealDeltaPE: decimal.Zero,
		})
	}
	return out, nil
}

type premiumRow struct {
	Date   string     `csv:"date"`
	Time   string     `csv:"time"`
	Spot   csvDecimal `csv:"spot"`
	ATM    int64      `csv:"atm"`
	Strike int64      `csv:"strike"`
	CE     csvDecimal `csv:"CE"`
	PE     csvDecimal `csv:"PE"`
}

// PremiumCodec writes one row per window strike; consecutive rows sharing
// date and time form one record.
type PremiumCodec struct{}

func (PremiumCodec) Encode(records []models.PremiumRecord) ([]byte, error) {
	var rows []premiumRow
	for _, r := range records {
		for _, l := range r.Legs {
			rows = append(rows, premiumRow{
				Date:   r.Date,
				Time:   r.Time,
				Spot:   csvDecimal{r.Spot},
				ATM:    r.ATM,
				Strike: l.Strike,
				CE:     csvDecimal{l.CE},
				PE:     csvDecimal{l.PE},
			})
		}
	}
	if rows == nil {
		rows = []premiumRow{}
	}
	return gocsv.MarshalBytes(&rows)
}

func (PremiumCodec) Decode(data []byte, _ string) ([]models.PremiumRecord, error) {
	if isBlank(data) {
		return nil, nil
	}
	var rows []premiumRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("decode premium csv: %w", err)
	}
	var out []models.PremiumRecord
	for _, row := range rows {
		n := len(out)
		if n == 0 || out[n-1].Date != row.Date || out[n-1].Time != row.Time {
			out = append(out, models.PremiumRecord{
				Date: row.Date,
				Time: row.Time,
				Spot: row.Spot.NullDecimal,
				ATM:  row.ATM,
			})
			n++
		}
		out[n-1].Legs = append(out[n-1].Legs, models.PremiumLeg{
			Strike: row.Strike,
			CE:     row.CE.NullDecimal,
			PE:     row.PE.NullDecimal,
		})
	}
	return out, nil
}
