package types

// AssignmentRule is a declarative condition/action pair for policy-driven routing
type AssignmentRule struct {
	ID         string               `json:"id" yaml:"id"`
	Name       string               `json:"name" yaml:"name"`
	Priority   int                  `json:"priority" yaml:"priority"`
	Conditions AssignmentConditions `json:"conditions" yaml:"conditions"`
	Actions    AssignmentActions    `json:"actions" yaml:"actions"`
	Enabled    bool                 `json:"enabled" yaml:"enabled"`
}

// AssignmentConditions are AND-combined; empty sets are not checked
type AssignmentConditions struct {
	Platforms         []Platform `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	PriorityLevels    []Priority `json:"priorityLevels,omitempty" yaml:"priority_levels,omitempty"`
	Departments       []string   `json:"departments,omitempty" yaml:"departments,omitempty"`
	Tags              []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	BusinessHoursOnly bool       `json:"businessHoursOnly,omitempty" yaml:"business_hours_only,omitempty"`
	CustomerSegments  []string   `json:"customerSegments,omitempty" yaml:"customer_segments,omitempty"`
}

// AssignmentActions are applied to the request when the rule wins
type AssignmentActions struct {
	AssignToAgent      string    `json:"assignToAgent,omitempty" yaml:"assign_to_agent,omitempty"`
	AssignToDepartment string    `json:"assignToDepartment,omitempty" yaml:"assign_to_department,omitempty"`
	LoadBalance        bool      `json:"loadBalance,omitempty" yaml:"load_balance,omitempty"`
	SetPriority        *Priority `json:"setPriority,omitempty" yaml:"set_priority,omitempty"`
	AddTags            []string  `json:"addTags,omitempty" yaml:"add_tags,omitempty"`
	Notify             bool      `json:"notify,omitempty" yaml:"notify,omitempty"`
}
