package controller

// all は記録済みの通知を消去せずに古い順で返す。
func (r *NoticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// last は最後の通知を返す。
func (r *NoticeRecorder) last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}
