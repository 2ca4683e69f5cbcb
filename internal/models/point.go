package models

// MapPoint is a fixed point of interest on the reserve map. Coords are pixel
// positions on the map image.
type MapPoint struct {
	Coords [2]float64 `json:"coords"`
	Title  string     `json:"title"`
	URL    string     `json:"url,omitempty"`
	Image  string     `json:"image,omitempty"`
}

// ReservePoints are the points of interest shown on the map.
var ReservePoints = []MapPoint{
	{Coords: [2]float64{200, 300}, Title: "Oak Tree", URL: "/oak", Image: "/images/oak.png"},
	{Coords: [2]float64{1173.75, 544}, Title: "Pond", URL: "/pond", Image: "/images/pond.png"},
	{Coords: [2]float64{1965.75, 2128}, Title: "Mushroom Grove"},
}
