package auth

import "slices"

const DefaultAvatar = "/default-avatar.png"

type Preferences struct {
	DarkMode      bool `json:"darkMode"`
	Autoplay      bool `json:"autoplay"`
	Notifications bool `json:"notifications"`
}

type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"iconUrl"`
}

// Profile is the session blob written to the key-value store under the session key.
type Profile struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Bio           string      `json:"bio"`
	AvatarURL     string      `json:"avatarUrl"`
	Following     int         `json:"following"`
	Followers     int         `json:"followers"`
	VideosWatched int         `json:"videosWatched"`
	Preferences   Preferences `json:"preferences"`
	Badges        []Badge     `json:"badges"`
	SavedVideos   []string    `json:"savedVideos"`
	LikedVideos   []string    `json:"likedVideos"`
}

func (p Profile) Clone() Profile {
	p.Badges = slices.Clone(p.Badges)
	p.SavedVideos = slices.Clone(p.SavedVideos)
	p.LikedVideos = slices.Clone(p.LikedVideos)
	p.ensureLists()
	return p
}

func (p *Profile) ensureLists() {
	if p.Badges == nil {
		p.Badges = []Badge{}
	}
	if p.SavedVideos == nil {
		p.SavedVideos = []string{}
	}
	if p.LikedVideos == nil {
		p.LikedVideos = []string{}
	}
}

// ProfilePatch carries the fields a profile update may change; nil fields are left untouched.
type ProfilePatch struct {
	Email         *string      `json:"email,omitempty"`
	Name          *string      `json:"name,omitempty"`
	Bio           *string      `json:"bio,omitempty"`
	AvatarURL     *string      `json:"avatarUrl,omitempty"`
	VideosWatched *int         `json:"videosWatched,omitempty"`
	Preferences   *Preferences `json:"preferences,omitempty"`
	SavedVideos   []string     `json:"savedVideos,omitempty"`
	LikedVideos   []string     `json:"likedVideos,omitempty"`
}

func (p Profile) Apply(patch ProfilePatch) Profile {
	out := p.Clone()
	if patch.Email != nil {
		out.Email = *patch.Email
	}
	if patch.Name != nil {
		out.Name = *patch.Name
	}
	if patch.Bio != nil {
		out.Bio = *patch.Bio
	}
	if patch.AvatarURL != nil {
		out.AvatarURL = *patch.AvatarURL
	}
	if patch.VideosWatched != nil {
		out.VideosWatched = *patch.VideosWatched
	}
	if patch.Preferences != nil {
		out.Preferences = *patch.Preferences
	}
	if patch.SavedVideos != nil {
		out.SavedVideos = slices.Clone(patch.SavedVideos)
	}
	if patch.LikedVideos != nil {
		out.LikedVideos = slices.Clone(patch.LikedVideos)
	}
	return out
}
