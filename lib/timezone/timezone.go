package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		panic(err)
	}
}

// force timezone to club time because hosted runners sometimes
// end up in other regions which will cause disturbances when
// manipulating dates based on <time.Time>.Year()/Month()/Day()/Hour()/...
func Now() time.Time {
	return time.Now().In(Location)
}

// DateKey formats a time as the YYYY-MM-DD key used for daily
// roster snapshot documents.
func DateKey(t time.Time) string {
	return t.In(Location).Format("2006-01-02")
}

func GetCurrentWeek(now time.Time) (start time.Time, stop time.Time) {
	start = now.Add(-time.Hour * 24 * time.Duration(now.Weekday()))
	stop = now.Add(time.Hour * 24 * time.Duration(time.Saturday-now.Weekday()))
	return start, stop
}
