package model

// LocationRecord is the caller's network location as seen by the geo lookup services.
type LocationRecord struct {
	IPAddress   string `json:"IP_address"`
	Location    string `json:"Location"`
	CountryCode string `json:"country_code"`
}

// Unknown is the placeholder used for location fields that could not be resolved.
const Unknown = "Unknown"

// UnknownLocation returns a record with every field set to the placeholder.
func UnknownLocation() LocationRecord {
	return LocationRecord{IPAddress: Unknown, Location: Unknown, CountryCode: Unknown}
}
