package types

import "time"

// GemType is the closed enumeration of supported gem varieties.
type GemType string

const (
	GemDiamond  GemType = "Diamond"
	GemRuby     GemType = "Ruby"
	GemSapphire GemType = "Sapphire"
	GemEmerald  GemType = "Emerald"
	GemTopaz    GemType = "Topaz"
	GemAmethyst GemType = "Amethyst"
	GemOpal     GemType = "Opal"
	GemPearl    GemType = "Pearl"
	GemJade     GemType = "Jade"
	GemOther    GemType = "Other"
)

func (t GemType) Valid() bool {
	switch t {
	case GemDiamond, GemRuby, GemSapphire, GemEmerald, GemTopaz,
		GemAmethyst, GemOpal, GemPearl, GemJade, GemOther:
		return true
	default:
		return false
	}
}

// Cut is the closed enumeration of gem cuts.
type Cut string

const (
	CutRound    Cut = "Round"
	CutPrincess Cut = "Princess"
	CutOval     Cut = "Oval"
	CutEmerald  Cut = "Emerald"
	CutCushion  Cut = "Cushion"
	CutPear     Cut = "Pear"
	CutMarquise Cut = "Marquise"
	CutRadiant  Cut = "Radiant"
	CutAsscher  Cut = "Asscher"
	CutHeart    Cut = "Heart"
	CutOther    Cut = "Other"
)

func (c Cut) Valid() bool {
	switch c {
	case CutRound, CutPrincess, CutOval, CutEmerald, CutCushion,
		CutPear, CutMarquise, CutRadiant, CutAsscher, CutHeart, CutOther:
		return true
	default:
		return false
	}
}

// Clarity is the closed enumeration of clarity grades. It is optional
// on a listing; the empty string means unspecified.
type Clarity string

const (
	ClarityFL   Clarity = "FL"
	ClarityIF   Clarity = "IF"
	ClarityVVS1 Clarity = "VVS1"
	ClarityVVS2 Clarity = "VVS2"
	ClarityVS1  Clarity = "VS1"
	ClarityVS2  Clarity = "VS2"
	ClaritySI1  Clarity = "SI1"
	ClaritySI2  Clarity = "SI2"
	ClarityI1   Clarity = "I1"
	ClarityI2   Clarity = "I2"
	ClarityI3   Clarity = "I3"
	ClarityNA   Clarity = "N/A"
)

func (c Clarity) Valid() bool {
	switch c {
	case ClarityFL, ClarityIF, ClarityVVS1, ClarityVVS2, ClarityVS1,
		ClarityVS2, ClaritySI1, ClaritySI2, ClarityI1, ClarityI2,
		ClarityI3, ClarityNA:
		return true
	default:
		return false
	}
}

// ListingType is how a gem is offered on the marketplace.
type ListingType string

const (
	ListingPortfolio  ListingType = "portfolio"
	ListingFixedPrice ListingType = "fixed-price"
	ListingAuction    ListingType = "auction"
)

func (t ListingType) Valid() bool {
	switch t {
	case ListingPortfolio, ListingFixedPrice, ListingAuction:
		return true
	default:
		return false
	}
}

// GemStatus is the moderation lifecycle gate controlling public
// visibility. Transitions: pending -> approved|rejected (admin),
// approved -> sold (sale flow).
type GemStatus string

const (
	StatusPending  GemStatus = "pending"
	StatusApproved GemStatus = "approved"
	StatusRejected GemStatus = "rejected"
	StatusSold     GemStatus = "sold"
)

func (s GemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSold:
		return true
	default:
		return false
	}
}

// CertificateType is the closed enumeration of certifying authorities.
type CertificateType string

const (
	CertGIA   CertificateType = "GIA"
	CertAGS   CertificateType = "AGS"
	CertIGI   CertificateType = "IGI"
	CertEGL   CertificateType = "EGL"
	CertGSI   CertificateType = "GSI"
	CertGJA   CertificateType = "Gem & Jewellery Authority"
	CertOther CertificateType = "Other"
)

func (t CertificateType) Valid() bool {
	switch t {
	case CertGIA, CertAGS, CertIGI, CertEGL, CertGSI, CertGJA, CertOther:
		return true
	default:
		return false
	}
}

// GemImage references an uploaded listing photo in object storage.
type GemImage struct {
	// URL is the public path the asset is served from.
	URL string `json:"url"`

	// ObjectKey is the identifier of the asset in object storage.
	ObjectKey string `json:"object_key"`

	// UploadedAt is the timestamp the asset was stored.
	UploadedAt time.Time `json:"uploaded_at"`
}

// GemCertificate references an uploaded grading certificate.
type GemCertificate struct {
	// URL is the public path the asset is served from.
	URL string `json:"url"`

	// ObjectKey is the identifier of the asset in object storage.
	ObjectKey string `json:"object_key"`

	// CertificateType is the certifying authority.
	CertificateType CertificateType `json:"certificate_type"`

	// CertificateNumber is the authority's reference number, if known.
	CertificateNumber string `json:"certificate_number,omitempty"`

	// UploadedAt is the timestamp the asset was stored.
	UploadedAt time.Time `json:"uploaded_at"`
}

// Gem represents a listing on the marketplace.
//
// A gem is created in "pending" status by a seller or collector and
// becomes publicly listable once an admin approves it. Watchers are
// tracked as a deduplicated set of user IDs.
type Gem struct {
	// ID is the unique identifier of the gem.
	ID int `json:"id" db:"id"`

	// Title is the human-readable listing title.
	Title string `json:"title" db:"title"`

	// Description is the full listing description.
	Description string `json:"description" db:"description"`

	// GemType is the gem variety.
	GemType GemType `json:"gem_type" db:"gem_type"`

	// Carat is the carat weight. Never negative.
	Carat float64 `json:"carat" db:"carat"`

	// Cut is the gem cut.
	Cut Cut `json:"cut" db:"cut"`

	// Color is a free-form color description.
	Color string `json:"color" db:"color"`

	// Clarity is the optional clarity grade. Empty means unspecified.
	Clarity Clarity `json:"clarity,omitempty" db:"clarity"`

	// Origin is the country or region of origin.
	Origin string `json:"origin" db:"origin"`

	// Images are the uploaded listing photos.
	Images []GemImage `json:"images" db:"images"`

	// Certificates are the uploaded grading certificates.
	Certificates []GemCertificate `json:"certificates" db:"certificates"`

	// SellerID references the owning seller.
	SellerID int `json:"seller_id" db:"seller_id"`

	// Seller is the reduced seller projection, populated on joined reads.
	Seller *SellerSummary `json:"seller,omitempty" db:"-"`

	// ListingType is how the gem is offered.
	ListingType ListingType `json:"listing_type" db:"listing_type"`

	// Price is the asking price. Optional; never negative when set.
	Price *float64 `json:"price,omitempty" db:"price"`

	// Status is the moderation status.
	Status GemStatus `json:"status" db:"status"`

	// RejectionReason is set only when Status is rejected.
	RejectionReason string `json:"rejection_reason,omitempty" db:"rejection_reason"`

	// IsPublic marks portfolio items visible on the owner's public page.
	IsPublic bool `json:"is_public" db:"is_public"`

	// Views counts detail fetches. Monotonic but not exactly accurate
	// under concurrent reads.
	Views int `json:"views" db:"views"`

	// Watchers are the IDs of users watching this listing. A user
	// appears at most once.
	Watchers []int `json:"watchers" db:"-"`

	// CreatedAt is the timestamp at which the listing was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the listing.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
