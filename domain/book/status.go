package book

// Status 阅读状态
type Status string

const (
	StatusToRead    Status = "TO_READ"
	StatusReading   Status = "READING"
	StatusFinished  Status = "FINISHED"
	StatusAbandoned Status = "ABANDONED"
)

// transitions is the complete table of allowed moves. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusToRead:    {StatusReading},
	StatusReading:   {StatusFinished, StatusAbandoned},
	StatusFinished:  {StatusReading},
	StatusAbandoned: {StatusReading},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the table allows s -> target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
