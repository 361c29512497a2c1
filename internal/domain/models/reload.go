package models

// ReloadNotice announces that a dataset was reloaded on one replica. Origin is
// the publishing instance so it can skip its own notices.
type ReloadNotice struct {
	SeriesID string `json:"seriesId"`
	Origin   string `json:"origin"`
	At       int64  `json:"at"`
}
