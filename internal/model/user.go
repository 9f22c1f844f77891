package model

// User is the backend's record for this device.
type User struct {
	Nickname              string `json:"nickname"`
	Bio                   string `json:"bio,omitempty"`
	KarmaScore            int    `json:"karma_score"`
	DailyMatchesRemaining int    `json:"daily_matches_remaining"`
	Gender                string `json:"gender"`
	IsVerified            bool   `json:"is_verified"`
}

type VerificationResult struct {
	Gender string `json:"gender"`
}

type UpdateProfileParams struct {
	Nickname string `json:"nickname"`
	Bio      string `json:"bio"`
}

type Karma struct {
	KarmaScore  int    `json:"karma_score"`
	AccessLevel string `json:"access_level,omitempty"`
}
