package state

// FilterSessionsByStatus returns sessions matching the given status.
func FilterSessionsByStatus(sessions []Session, status SessionStatus) []Session {
	result := make([]Session, 0, len(sessions))
	for i := range sessions {
		if sessions[i].Status() == status {
			result = append(result, sessions[i])
		}
	}
	return result
}

// ActiveSessions returns the sessions with activity inside the window.
func ActiveSessions(sessions []Session) []Session {
	return FilterSessionsByStatus(sessions, StatusActive)
}
