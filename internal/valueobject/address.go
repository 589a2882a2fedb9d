package valueobject

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAddress は住所の形式が不正な場合のエラー。
var ErrInvalidAddress = fmt.Errorf("%w: postal address", ErrInvalidValue)

// ErrInvalidCoordinate は緯度経度が範囲外の場合のエラー。
var ErrInvalidCoordinate = fmt.Errorf("%w: geographic coordinate", ErrInvalidValue)

const (
	maxAddressLineLength = 200
	addressLineCount     = 6
	geoLinePrefix        = "geo:"
)

// GeoCoordinate は緯度経度を表す値オブジェクト。
type GeoCoordinate struct {
	lat float64
	lng float64
}

// NewGeoCoordinate は範囲を検証してGeoCoordinateを生成する。
// 緯度は-90〜90、経度は-180〜180。
func NewGeoCoordinate(lat, lng float64) (GeoCoordinate, error) {
	if lat < -90 || lat > 90 {
		return GeoCoordinate{}, fmt.Errorf("%w: latitude must be between -90 and 90, got %v", ErrInvalidCoordinate, lat)
	}
	if lng < -180 || lng > 180 {
		return GeoCoordinate{}, fmt.Errorf("%w: longitude must be between -180 and 180, got %v", ErrInvalidCoordinate, lng)
	}
	return GeoCoordinate{lat: lat, lng: lng}, nil
}

// Latitude は緯度を返す。
func (g GeoCoordinate) Latitude() float64 { return g.lat }

// Longitude は経度を返す。
func (g GeoCoordinate) Longitude() float64 { return g.lng }

// String は "lat,lng" 形式で返す。
func (g GeoCoordinate) String() string {
	return strconv.FormatFloat(g.lat, 'f', -1, 64) + "," + strconv.FormatFloat(g.lng, 'f', -1, 64)
}

// Equal は値で比較する。
func (g GeoCoordinate) Equal(other GeoCoordinate) bool {
	return g.lat == other.lat && g.lng == other.lng
}

func parseGeoCoordinate(s string) (GeoCoordinate, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return GeoCoordinate{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return GeoCoordinate{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	return NewGeoCoordinate(lat, lng)
}

// AddressFields はPostalAddressの生成入力。
type AddressFields struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string // ISO 3166-1 alpha-2
	Latitude   *float64
	Longitude  *float64
}

// PostalAddress は郵便住所を表す値オブジェクト。
type PostalAddress struct {
	line1      string
	line2      string
	city       string
	region     string
	postalCode string
	country    string
	coordinate *GeoCoordinate
}

// NewPostalAddress は入力を検証してPostalAddressを生成する。
// Line1、City、Countryは必須。各フィールドの連続する空白と改行は1つの空白にまとめる。
func NewPostalAddress(f AddressFields) (PostalAddress, error) {
	fields := []*string{&f.Line1, &f.Line2, &f.City, &f.Region, &f.PostalCode, &f.Country}
	for _, p := range fields {
		*p = strings.Join(strings.Fields(*p), " ")
		if len(*p) > maxAddressLineLength {
			return PostalAddress{}, fmt.Errorf("%w: field longer than %d characters", ErrInvalidAddress, maxAddressLineLength)
		}
	}

	if f.Line1 == "" {
		return PostalAddress{}, fmt.Errorf("%w: line1 is required", ErrInvalidAddress)
	}
	if f.City == "" {
		return PostalAddress{}, fmt.Errorf("%w: city is required", ErrInvalidAddress)
	}
	country := strings.ToUpper(f.Country)
	if len(country) != 2 || !isASCIIAlpha(country) {
		return PostalAddress{}, fmt.Errorf("%w: country must be a 2-letter ISO code, got %q", ErrInvalidAddress, f.Country)
	}

	addr := PostalAddress{
		line1:      f.Line1,
		line2:      f.Line2,
		city:       f.City,
		region:     f.Region,
		postalCode: f.PostalCode,
		country:    country,
	}

	if f.Latitude != nil || f.Longitude != nil {
		if f.Latitude == nil || f.Longitude == nil {
			return PostalAddress{}, fmt.Errorf("%w: latitude and longitude must be given together", ErrInvalidAddress)
		}
		geo, err := NewGeoCoordinate(*f.Latitude, *f.Longitude)
		if err != nil {
			return PostalAddress{}, err
		}
		addr.coordinate = &geo
	}

	return addr, nil
}

// ParsePostalAddress はCanonicalの出力からPostalAddressを復元する。
func ParsePostalAddress(canonical string) (PostalAddress, error) {
	lines := strings.Split(canonical, "\n")
	if len(lines) != addressLineCount && len(lines) != addressLineCount+1 {
		return PostalAddress{}, fmt.Errorf("%w: unexpected canonical form", ErrInvalidAddress)
	}

	f := AddressFields{
		Line1:      lines[0],
		Line2:      lines[1],
		City:       lines[2],
		Region:     lines[3],
		PostalCode: lines[4],
		Country:    lines[5],
	}
	if len(lines) == addressLineCount+1 {
		geoLine, ok := strings.CutPrefix(lines[6], geoLinePrefix)
		if !ok {
			return PostalAddress{}, fmt.Errorf("%w: unexpected trailing line", ErrInvalidAddress)
		}
		geo, err := parseGeoCoordinate(geoLine)
		if err != nil {
			return PostalAddress{}, err
		}
		lat, lng := geo.Latitude(), geo.Longitude()
		f.Latitude, f.Longitude = &lat, &lng
	}
	return NewPostalAddress(f)
}

// Fields は各フィールドを取り出す。
func (a PostalAddress) Fields() AddressFields {
	f := AddressFields{
		Line1:      a.line1,
		Line2:      a.line2,
		City:       a.city,
		Region:     a.region,
		PostalCode: a.postalCode,
		Country:    a.country,
	}
	if a.coordinate != nil {
		lat, lng := a.coordinate.Latitude(), a.coordinate.Longitude()
		f.Latitude, f.Longitude = &lat, &lng
	}
	return f
}

// Coordinate は緯度経度を返す。未設定の場合はfalse。
func (a PostalAddress) Coordinate() (GeoCoordinate, bool) {
	if a.coordinate == nil {
		return GeoCoordinate{}, false
	}
	return *a.coordinate, true
}

// Canonical は永続化用の正規形を返す。
// 6行固定（Line1, Line2, City, Region, PostalCode, Country）で、座標がある場合は
// "geo:lat,lng" の7行目を付ける。
func (a PostalAddress) Canonical() string {
	lines := []string{a.line1, a.line2, a.city, a.region, a.postalCode, a.country}
	if a.coordinate != nil {
		lines = append(lines, geoLinePrefix+a.coordinate.String())
	}
	return strings.Join(lines, "\n")
}

// String は表示用の1行形式を返す。
func (a PostalAddress) String() string {
	parts := make([]string, 0, addressLineCount)
	for _, p := range []string{a.line1, a.line2, a.city, a.region, a.postalCode, a.country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Key は重複判定用のキーを返す。大文字小文字を区別しない。
func (a PostalAddress) Key() string {
	return strings.ToLower(a.Canonical())
}

// Equal は正規形で比較する。
func (a PostalAddress) Equal(other PostalAddress) bool {
	return a.Key() == other.Key()
}

func isASCIIAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
