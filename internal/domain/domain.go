package domain

// Status is the verification lifecycle of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusVerified, StatusFailed:
		return true
	}
	return false
}

// Terminal statuses cannot be toggled manually.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// Done reports whether the task counts as finished for metrics and overdue checks.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusVerified
}

type TaskType string

const (
	TypeApplication   TaskType = "application"
	TypeCertification TaskType = "certification"
	TypePortfolio     TaskType = "portfolio"
	TypeNetworking    TaskType = "networking"
	TypeFinance       TaskType = "finance"
	TypeAdmin         TaskType = "admin"
)

// TaskTypes lists every task category in display order.
var TaskTypes = []TaskType{TypeApplication, TypeCertification, TypePortfolio, TypeNetworking, TypeFinance, TypeAdmin}

func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

type LogLevel string

const (
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelCritical LogLevel = "critical"
	LevelSuccess  LogLevel = "success"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical, LevelSuccess:
		return true
	}
	return false
}

type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RuleTriggered RuleStatus = "triggered"
	RuleResolved  RuleStatus = "resolved"
)

type MetricColor string

const (
	ColorBlue   MetricColor = "blue"
	ColorGreen  MetricColor = "green"
	ColorPurple MetricColor = "purple"
	ColorRed    MetricColor = "red"
)

func (c MetricColor) Valid() bool {
	switch c {
	case ColorBlue, ColorGreen, ColorPurple, ColorRed:
		return true
	}
	return false
}

// Chat senders and well-known actor labels.
const (
	SenderUser       = "User"
	SenderOverseer   = "AI_Overseer"
	ActorSystem      = "System"
	ActorRemoteAgent = "Remote_Agent"
)

// MaxConsequenceLevel is the ceiling of the escalation meter.
const MaxConsequenceLevel = 100

type SubTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	IsCompleted bool   `json:"isCompleted"`
}

type Task struct {
	ID                   string    `json:"id"`
	Description          string    `json:"description"`
	Status               Status    `json:"status" enum:"pending,in-progress,completed,verified,failed"`
	DueDate              string    `json:"dueDate,omitempty"`
	CompletedAt          string    `json:"completedAt,omitempty" format:"date-time"`
	Type                 TaskType  `json:"type" enum:"application,certification,portfolio,networking,finance,admin"`
	VerifiedBy           string    `json:"verifiedBy,omitempty"`
	VerificationCriteria string    `json:"verificationCriteria,omitempty"`
	SubTasks             []SubTask `json:"subTasks,omitempty"`
}

type Week struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Theme     string `json:"theme"`
	DateRange string `json:"dateRange"`
	Tasks     []Task `json:"tasks"`
	IsCurrent bool   `json:"isCurrent"`
}

type Sprint struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	DateRange string `json:"dateRange"`
	Objective string `json:"objective"`
	Weeks     []Week `json:"weeks"`
}

// Metrics are the fixed dashboard counters.
type Metrics struct {
	ApplicationsSent   int      `json:"applicationsSent"`
	ApplicationsTarget int      `json:"applicationsTarget"`
	Interviews         int      `json:"interviews"`
	Offers             int      `json:"offers"`
	Certifications     []string `json:"certifications"`
	DebtPaid           int      `json:"debtPaid"`
	PortfolioItems     int      `json:"portfolioItems"`
}

type CustomMetric struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Value  float64     `json:"value"`
	Target float64     `json:"target"`
	Unit   string      `json:"unit"`
	Color  MetricColor `json:"color" enum:"blue,green,purple,red"`
}

type SystemLog struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp" format:"date-time"`
	Actor     string   `json:"actor"`
	Action    string   `json:"action"`
	Details   string   `json:"details"`
	Level     LogLevel `json:"level" enum:"info,warning,critical,success"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender" enum:"User,AI_Overseer"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Rule struct {
	ID          string     `json:"id"`
	Condition   string     `json:"condition"`
	Consequence string     `json:"consequence"`
	Status      RuleStatus `json:"status" enum:"active,triggered,resolved"`
}

type UserProfile struct {
	Name              string `json:"name"`
	IsAuthenticated   bool   `json:"isAuthenticated"`
	IsAIConnected     bool   `json:"isAIConnected"`
	RemoteURL         string `json:"remoteUrl,omitempty"`
	IsRemoteConnected bool   `json:"isRemoteConnected,omitempty"`
}

// State is the whole application document. Logs are kept newest first.
type State struct {
	User             UserProfile    `json:"user"`
	Sprints          []Sprint       `json:"sprints"`
	Metrics          Metrics        `json:"metrics"`
	CustomMetrics    []CustomMetric `json:"customMetrics"`
	Logs             []SystemLog    `json:"logs"`
	ChatHistory      []ChatMessage  `json:"chatHistory"`
	Rules            []Rule         `json:"rules"`
	ConsequenceLevel int            `json:"consequenceLevel"`
}

// AllTasks flattens sprint -> week -> task in document order.
func (s *State) AllTasks() []Task {
	var out []Task
	for _, sp := range s.Sprints {
		for _, w := range sp.Weeks {
			out = append(out, w.Tasks...)
		}
	}
	return out
}

// FindTask returns the task with id and whether it exists.
func (s *State) FindTask(id string) (Task, bool) {
	for _, sp := range s.Sprints {
		for _, w := range sp.Weeks {
			for _, t := range w.Tasks {
				if t.ID == id {
					return t, true
				}
			}
		}
	}
	return Task{}, false
}

// WeekCount is the number of weeks across all sprints.
func (s *State) WeekCount() int {
	n := 0
	for _, sp := range s.Sprints {
		n += len(sp.Weeks)
	}
	return n
}

// Normalize replaces nil top-level collections with empty ones so the
// serialized document always carries arrays for them.
func (s *State) Normalize() {
	if s.Sprints == nil {
		s.Sprints = []Sprint{}
	}
	if s.CustomMetrics == nil {
		s.CustomMetrics = []CustomMetric{}
	}
	if s.Logs == nil {
		s.Logs = []SystemLog{}
	}
	if s.ChatHistory == nil {
		s.ChatHistory = []ChatMessage{}
	}
	if s.Rules == nil {
		s.Rules = []Rule{}
	}
	if s.Metrics.Certifications == nil {
		s.Metrics.Certifications = []string{}
	}
}
