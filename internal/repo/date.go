package repo

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// dateLayout is fixed width so that text ordering in the database matches
// time ordering.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Date time.Time

func (d Date) Value() (driver.Value, error) {
	return time.Time(d).UTC().Format(dateLayout), nil
}

func (d *Date) Scan(value any) error {
	if value == nil {
		*d = Date(time.Time{})
		return nil
	}

	switch v := value.(type) {
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case time.Time:
		*d = Date(v.UTC())
		return nil
	}

	return fmt.Errorf("cannot scan type %T into Date", value)
}

func (d *Date) parse(str string) error {
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", str)
		if err != nil {
			return err
		}
	}
	*d = Date(t.UTC())
	return nil
}

func (d Date) String() string {
	return time.Time(d).UTC().Format(dateLayout)
}

func (d Date) Time() time.Time {
	return time.Time(d)
}

func datePtr(d *Date) *time.Time {
	if d == nil || time.Time(*d).IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}
