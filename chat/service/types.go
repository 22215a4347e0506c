package service

// ParticipantsInfo is a roster snapshot in join order
type ParticipantsInfo struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}
