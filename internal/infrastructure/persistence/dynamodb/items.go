package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
)

const (
	entityNode       = "NODE"
	entityConnection = "CONNECTION"
	entitySemantic   = "SEMANTIC_LOCK"
	entityCategory   = "CATEGORY"
	entitySession    = "SESSION"

	skMeta          = "META"
	skLock          = "LOCK"
	categoriesPK    = "CATEGORIES"
	sessionStatusPK = "SESSION_STATUS#"
)

func nodePK(id string) string               { return "NODE#" + id }
func semanticPK(sid string) string          { return "SEMANTIC#" + sid }
func connectionPK(id string) string         { return "CONN#" + id }
func categoryPK(cat string) string          { return "CATEGORY#" + cat }
func fromPK(nodeID string) string           { return "FROM#" + nodeID }
func toPK(nodeID string) string             { return "TO#" + nodeID }
func sessionPK(id string) string            { return "SESSION#" + id }
func sessionStatus(s session.Status) string { return sessionStatusPK + string(s) }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

type nodeItem struct {
	PK              string   `dynamodbav:"PK"`
	SK              string   `dynamodbav:"SK"`
	GSI1PK          string   `dynamodbav:"GSI1PK"`
	GSI1SK          string   `dynamodbav:"GSI1SK"`
	EntityType      string   `dynamodbav:"EntityType"`
	NodeID          string   `dynamodbav:"NodeID"`
	Category        string   `dynamodbav:"Category"`
	NodeType        string   `dynamodbav:"NodeType"`
	Text            string   `dynamodbav:"Text"`
	SemanticID      *string  `dynamodbav:"SemanticID,omitempty"`
	DisplayCategory *string  `dynamodbav:"DisplayCategory,omitempty"`
	PositionX       *float64 `dynamodbav:"PositionX,omitempty"`
	PositionY       *float64 `dynamodbav:"PositionY,omitempty"`
	IsActive        bool     `dynamodbav:"IsActive"`
	CreatedAt       string   `dynamodbav:"CreatedAt"`
	UpdatedAt       string   `dynamodbav:"UpdatedAt"`
	// EdgeCount is maintained by the unit of work, never by the domain.
	EdgeCount int `dynamodbav:"EdgeCount"`
}

func toNodeItem(n *graph.Node) nodeItem {
	created := formatTime(n.CreatedAt)
	return nodeItem{
		PK:              nodePK(n.ID),
		SK:              skMeta,
		GSI1PK:          categoryPK(n.Category),
		GSI1SK:          fmt.Sprintf("NODE#%s#%s", created, n.ID),
		EntityType:      entityNode,
		NodeID:          n.ID,
		Category:        n.Category,
		NodeType:        string(n.NodeType),
		Text:            n.Text,
		SemanticID:      n.SemanticID,
		DisplayCategory: n.DisplayCategory,
		PositionX:       n.PositionX,
		PositionY:       n.PositionY,
		IsActive:        n.IsActive,
		CreatedAt:       created,
		UpdatedAt:       formatTime(n.UpdatedAt),
	}
}

func (i nodeItem) toDomain() *graph.Node {
	return &graph.Node{
		ID:              i.NodeID,
		Category:        i.Category,
		NodeType:        graph.NodeType(i.NodeType),
		Text:            i.Text,
		SemanticID:      i.SemanticID,
		DisplayCategory: i.DisplayCategory,
		PositionX:       i.PositionX,
		PositionY:       i.PositionY,
		IsActive:        i.IsActive,
		CreatedAt:       parseTime(i.CreatedAt),
		UpdatedAt:       parseTime(i.UpdatedAt),
	}
}

type semanticLockItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	NodeID     string `dynamodbav:"NodeID"`
}

type connectionItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	GSI2PK     string `dynamodbav:"GSI2PK"`
	GSI2SK     string `dynamodbav:"GSI2SK"`
	EntityType string `dynamodbav:"EntityType"`
	ID         string `dynamodbav:"ConnectionID"`
	FromNodeID string `dynamodbav:"FromNodeID"`
	ToNodeID   string `dynamodbav:"ToNodeID"`
	Label      string `dynamodbav:"Label"`
	OrderIndex int    `dynamodbav:"OrderIndex"`
	IsActive   bool   `dynamodbav:"IsActive"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

func toConnectionItem(c *graph.Connection) connectionItem {
	created := formatTime(c.CreatedAt)
	sortKey := fmt.Sprintf("%s#%s", created, c.ID)
	return connectionItem{
		PK:         connectionPK(c.ID),
		SK:         skMeta,
		GSI1PK:     fromPK(c.FromNodeID),
		GSI1SK:     sortKey,
		GSI2PK:     toPK(c.ToNodeID),
		GSI2SK:     sortKey,
		EntityType: entityConnection,
		ID:         c.ID,
		FromNodeID: c.FromNodeID,
		ToNodeID:   c.ToNodeID,
		Label:      c.Label,
		OrderIndex: c.OrderIndex,
		IsActive:   c.IsActive,
		CreatedAt:  created,
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

func (i connectionItem) toDomain() *graph.Connection {
	return &graph.Connection{
		ID:         i.ID,
		FromNodeID: i.FromNodeID,
		ToNodeID:   i.ToNodeID,
		Label:      i.Label,
		OrderIndex: i.OrderIndex,
		IsActive:   i.IsActive,
		CreatedAt:  parseTime(i.CreatedAt),
		UpdatedAt:  parseTime(i.UpdatedAt),
	}
}

type categoryItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	Category   string `dynamodbav:"Category"`
	NodeCount  int    `dynamodbav:"NodeCount"`
}

type sessionItem struct {
	PK              string         `dynamodbav:"PK"`
	SK              string         `dynamodbav:"SK"`
	GSI1PK          string         `dynamodbav:"GSI1PK"`
	GSI1SK          string         `dynamodbav:"GSI1SK"`
	EntityType      string         `dynamodbav:"EntityType"`
	SessionID       string         `dynamodbav:"SessionID"`
	Category        string         `dynamodbav:"Category,omitempty"`
	CurrentNodeID   string         `dynamodbav:"CurrentNodeID"`
	Steps           []session.Step `dynamodbav:"Steps"`
	StartedAt       string         `dynamodbav:"StartedAt"`
	UpdatedAt       string         `dynamodbav:"UpdatedAt"`
	CompletedAt     *string        `dynamodbav:"CompletedAt,omitempty"`
	Abandoned       bool           `dynamodbav:"Abandoned"`
	FinalConclusion *string        `dynamodbav:"FinalConclusion,omitempty"`
	TechIdentifier  *string        `dynamodbav:"TechIdentifier,omitempty"`
	ClientSite      *string        `dynamodbav:"ClientSite,omitempty"`
	IPHash          *string        `dynamodbav:"IPHash,omitempty"`
	UserAgent       *string        `dynamodbav:"UserAgent,omitempty"`
	Version         int            `dynamodbav:"Version"`
}

func toSessionItem(s *session.Session) sessionItem {
	updated := formatTime(s.UpdatedAt)
	item := sessionItem{
		PK:              sessionPK(s.ID),
		SK:              skMeta,
		GSI1PK:          sessionStatus(s.Status()),
		GSI1SK:          updated,
		EntityType:      entitySession,
		SessionID:       s.ID,
		Category:        s.Category,
		CurrentNodeID:   s.CurrentNodeID,
		Steps:           s.Steps,
		StartedAt:       formatTime(s.StartedAt),
		UpdatedAt:       updated,
		Abandoned:       s.Abandoned,
		FinalConclusion: s.FinalConclusion,
		TechIdentifier:  s.TechIdentifier,
		ClientSite:      s.ClientSite,
		IPHash:          s.IPHash,
		UserAgent:       s.UserAgent,
		Version:         s.Version,
	}
	if s.CompletedAt != nil {
		completed := formatTime(*s.CompletedAt)
		item.CompletedAt = &completed
	}
	if item.Steps == nil {
		item.Steps = []session.Step{}
	}
	return item
}

func (i sessionItem) toDomain() *session.Session {
	s := &session.Session{
		ID:              i.SessionID,
		Category:        i.Category,
		CurrentNodeID:   i.CurrentNodeID,
		Steps:           i.Steps,
		StartedAt:       parseTime(i.StartedAt),
		UpdatedAt:       parseTime(i.UpdatedAt),
		Abandoned:       i.Abandoned,
		FinalConclusion: i.FinalConclusion,
		Context: session.Context{
			TechIdentifier: i.TechIdentifier,
			ClientSite:     i.ClientSite,
			IPHash:         i.IPHash,
			UserAgent:      i.UserAgent,
		},
		Version: i.Version,
	}
	if i.CompletedAt != nil {
		t := parseTime(*i.CompletedAt)
		s.CompletedAt = &t
	}
	if s.Steps == nil {
		s.Steps = []session.Step{}
	}
	return s
}
