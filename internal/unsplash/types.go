package unsplash

import "strings"

// Wallpaper is one catalog image as the rest of the application sees it.
// Raw is always present in the struct and empty when the catalog omits it.
type Wallpaper struct {
	ID          string `json:"id"`
	URLs        URLs   `json:"urls"`
	Author      Author `json:"author"`
	Likes       int    `json:"likes"`
	Description string `json:"description"`
	Color       string `json:"color,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// URLs lists the image renditions, largest first.
type URLs struct {
	Raw     string `json:"raw"`
	Full    string `json:"full"`
	Regular string `json:"regular"`
	Small   string `json:"small,omitempty"`
	Thumb   string `json:"thumb,omitempty"`
}

// Best returns the largest rendition available.
func (u URLs) Best() string {
	for _, candidate := range []string{u.Full, u.Raw, u.Regular, u.Small, u.Thumb} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Author credits the photographer.
type Author struct {
	Name         string `json:"name"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage"`
}

// Category is a named feed filter. An empty CollectionID means no filter.
type Category struct {
	ID           string
	Label        string
	CollectionID string
}

// AllCategory is the unfiltered feed.
const AllCategory = "all"

// DefaultCategories mirrors the catalog collections the app ships with.
var DefaultCategories = []Category{
	{ID: AllCategory, Label: "All"},
	{ID: "featured", Label: "Featured", CollectionID: "317099"},
	{ID: "nature", Label: "Nature", CollectionID: "3330448"},
	{ID: "minimal", Label: "Minimal", CollectionID: "3330445"},
	{ID: "dark", Label: "Dark", CollectionID: "4468906"},
	{ID: "abstract", Label: "Abstract", CollectionID: "4468907"},
	{ID: "colorful", Label: "Colorful", CollectionID: "4468908"},
}

// photo mirrors the catalog's photo object.
type photo struct {
	ID             string  `json:"id"`
	Description    *string `json:"description"`
	AltDescription *string `json:"alt_description"`
	Color          string  `json:"color"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Likes          int     `json:"likes"`
	URLs           struct {
		Raw     string `json:"raw"`
		Full    string `json:"full"`
		Regular string `json:"regular"`
		Small   string `json:"small"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	User struct {
		Name         string `json:"name"`
		Username     string `json:"username"`
		ProfileImage struct {
			Small  string `json:"small"`
			Medium string `json:"medium"`
			Large  string `json:"large"`
		} `json:"profile_image"`
	} `json:"user"`
}

type searchResponse struct {
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	Results    []photo `json:"results"`
}

type errorResponse struct {
	Errors []string `json:"errors"`
}

// untitled is shown when neither description field is set.
const untitled = "Untitled"

func (p photo) wallpaper() Wallpaper {
	avatar := p.User.ProfileImage.Medium
	if avatar == "" {
		avatar = p.User.ProfileImage.Small
	}
	return Wallpaper{
		ID: p.ID,
		URLs: URLs{
			Raw:     p.URLs.Raw,
			Full:    p.URLs.Full,
			Regular: p.URLs.Regular,
			Small:   p.URLs.Small,
			Thumb:   p.URLs.Thumb,
		},
		Author: Author{
			Name:         p.User.Name,
			Username:     p.User.Username,
			ProfileImage: avatar,
		},
		Likes:       p.Likes,
		Description: describe(p.Description, p.AltDescription),
		Color:       p.Color,
		Width:       p.Width,
		Height:      p.Height,
	}
}

func describe(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}
	return untitled
}

func mapPhotos(photos []photo) []Wallpaper {
	out := make([]Wallpaper, 0, len(photos))
	for _, p := range photos {
		if p.ID == "" {
			continue
		}
		out = append(out, p.wallpaper())
	}
	return out
}
