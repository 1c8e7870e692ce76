package qrtool

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

const qrServerBase = "https://api.qrserver.com/v1/create-qr-code/"

// ErrInvalidTarget is returned for requests whose target URL or rendering
// options cannot produce a scannable code.
var ErrInvalidTarget = errors.New("invalid qr target")

var (
	Sizes   = []int{200, 256, 320, 512}
	ECCs    = []string{"L", "M", "Q", "H"}
	Margins = []int{2, 4, 8}
)

const (
	minSize   = 64
	maxSize   = 1024
	maxMargin = 32
)

// RGB is a colour in the dash-separated form the image service expects.
type RGB [3]uint8

func (c RGB) String() string {
	return fmt.Sprintf("%d-%d-%d", c[0], c[1], c[2])
}

// Palette pairs a foreground and a background with enough contrast to scan.
type Palette struct {
	Label string
	FG    RGB
	BG    RGB
}

var Palettes = []Palette{
	{Label: "Classic", FG: RGB{0, 0, 0}, BG: RGB{255, 255, 255}},
	{Label: "Slate", FG: RGB{31, 41, 55}, BG: RGB{250, 250, 250}},
	{Label: "Navy/Cream", FG: RGB{40, 54, 85}, BG: RGB{254, 252, 232}},
	{Label: "Blue", FG: RGB{36, 99, 160}, BG: RGB{248, 250, 252}},
	{Label: "Purple", FG: RGB{88, 28, 135}, BG: RGB{250, 245, 255}},
	{Label: "Green", FG: RGB{20, 83, 45}, BG: RGB{240, 253, 244}},
	{Label: "Brown", FG: RGB{146, 64, 14}, BG: RGB{255, 247, 237}},
	{Label: "Red", FG: RGB{180, 37, 41}, BG: RGB{255, 245, 245}},
	{Label: "Inverted Slate", FG: RGB{255, 255, 255}, BG: RGB{31, 41, 55}},
	{Label: "Inverted Blue", FG: RGB{248, 250, 252}, BG: RGB{30, 58, 138}},
}

// Style is one rendering of the target.
type Style struct {
	Palette int
	ECC     string
	Margin  int
}

// variantStyles are rendered at a reduced size next to the main code.
var variantStyles = []Style{
	{Palette: 1, ECC: "M", Margin: 2},
	{Palette: 2, ECC: "Q", Margin: 2},
	{Palette: 4, ECC: "L", Margin: 2},
	{Palette: 5, ECC: "M", Margin: 8},
	{Palette: 8, ECC: "H", Margin: 2},
	{Palette: 9, ECC: "Q", Margin: 4},
}

// CanonicalizeURL trims the input and adds an https scheme when none is given.
// An empty input stays empty.
func CanonicalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		u = "https://" + u
	}
	return u
}

// WithFragment replaces any fragment of target with r=nonce, which changes
// the code's pattern but not where it leads.
func WithFragment(target, nonce string) string {
	base, _, _ := strings.Cut(target, "#")
	return base + "#r=" + nonce
}

// GenerateRequest is the body of a generate call.
type GenerateRequest struct {
	URL     string `json:"url"`
	Size    int    `json:"size"`
	ECC     string `json:"ecc"`
	Margin  *int   `json:"margin"`
	Palette int    `json:"palette"`
	Vary    bool   `json:"vary"`
}

// normalize fills defaults and checks every option.
func (r GenerateRequest) normalize() (GenerateRequest, error) {
	r.URL = CanonicalizeURL(r.URL)
	if r.URL == "" {
		return r, fmt.Errorf("%w: url is required", ErrInvalidTarget)
	}
	parsed, err := url.Parse(r.URL)
	if err != nil || parsed.Host == "" {
		return r, fmt.Errorf("%w: %q is not a url", ErrInvalidTarget, r.URL)
	}
	if r.Size == 0 {
		r.Size = 256
	}
	if r.Size < minSize || r.Size > maxSize {
		return r, fmt.Errorf("%w: size %d outside %d..%d", ErrInvalidTarget, r.Size, minSize, maxSize)
	}
	if r.ECC == "" {
		r.ECC = "M"
	}
	r.ECC = strings.ToUpper(r.ECC)
	if !slices.Contains(ECCs, r.ECC) {
		return r, fmt.Errorf("%w: error correction %q", ErrInvalidTarget, r.ECC)
	}
	if r.Margin == nil {
		m := 2
		r.Margin = &m
	}
	if *r.Margin < 0 || *r.Margin > maxMargin {
		return r, fmt.Errorf("%w: margin %d outside 0..%d", ErrInvalidTarget, *r.Margin, maxMargin)
	}
	if r.Palette < 0 || r.Palette >= len(Palettes) {
		return r, fmt.Errorf("%w: palette %d", ErrInvalidTarget, r.Palette)
	}
	return r, nil
}

// BuildImageURL returns the address of a PNG encoding data with the given
// options.
func BuildImageURL(data string, size int, style Style) string {
	p := Palettes[style.Palette]
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", size, size))
	q.Set("data", data)
	q.Set("ecc", style.ECC)
	q.Set("margin", fmt.Sprint(style.Margin))
	q.Set("color", p.FG.String())
	q.Set("bgcolor", p.BG.String())
	q.Set("format", "png")
	return qrServerBase + "?" + q.Encode()
}

// Variant is a rendered style of a generated code.
type Variant struct {
	Label    string `json:"label"`
	ImageURL string `json:"imageUrl"`
}

// Generated is the answer to a generate call.
type Generated struct {
	Target   string    `json:"target"`
	ImageURL string    `json:"imageUrl"`
	Variants []Variant `json:"variants"`
}

// Generate validates req and renders the main code plus the variant styles.
// nonce is called once per rendering when req.Vary is set.
func Generate(req GenerateRequest, nonce func() string) (Generated, GenerateRequest, error) {
	req, err := req.normalize()
	if err != nil {
		return Generated{}, req, err
	}
	data := func() string {
		if req.Vary && nonce != nil {
			return WithFragment(req.URL, nonce())
		}
		return req.URL
	}

	out := Generated{
		Target:   req.URL,
		ImageURL: BuildImageURL(data(), req.Size, Style{Palette: req.Palette, ECC: req.ECC, Margin: *req.Margin}),
		Variants: make([]Variant, 0, len(variantStyles)),
	}
	small := req.Size * 6 / 10
	for _, s := range variantStyles {
		out.Variants = append(out.Variants, Variant{
			Label:    Palettes[s.Palette].Label,
			ImageURL: BuildImageURL(data(), small, s),
		})
	}
	return out, req, nil
}
