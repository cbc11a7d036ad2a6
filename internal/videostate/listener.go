package videostate

// ListenerFuncs adapts optional callbacks to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnSaved    func(saved []string, videoID string, on bool)
	OnLiked    func(liked []string, videoID string, on bool)
	OnProgress func(videoID string, p Progress)
}

func (f ListenerFuncs) SavedChanged(saved []string, videoID string, on bool) {
	if f.OnSaved != nil {
		f.OnSaved(saved, videoID, on)
	}
}

func (f ListenerFuncs) LikedChanged(liked []string, videoID string, on bool) {
	if f.OnLiked != nil {
		f.OnLiked(liked, videoID, on)
	}
}

func (f ListenerFuncs) ProgressRecorded(videoID string, p Progress) {
	if f.OnProgress != nil {
		f.OnProgress(videoID, p)
	}
}

// Multi fans each callback out to every listener in order.
type Multi []Listener

func (m Multi) SavedChanged(saved []string, videoID string, on bool) {
	for _, l := range m {
		l.SavedChanged(saved, videoID, on)
	}
}

func (m Multi) LikedChanged(liked []string, videoID string, on bool) {
	for _, l := range m {
		l.LikedChanged(liked, videoID, on)
	}
}

func (m Multi) ProgressRecorded(videoID string, p Progress) {
	for _, l := range m {
		l.ProgressRecorded(videoID, p)
	}
}
