package core

import (
	"time"
)

// Actor is a local or remote account participating in federation.
// Local actors carry a keypair, remote actors only the public key
// fetched from their origin server.
type Actor struct {
	ID            string    `json:"id" gorm:"primaryKey;type:char(20)"`
	URI           string    `json:"uri" gorm:"type:text;uniqueIndex"`
	Username      string    `json:"username" gorm:"type:text"`
	Host          string    `json:"host" gorm:"type:text"` // empty for local actors
	Inbox         string    `json:"inbox" gorm:"type:text"`
	SharedInbox   string    `json:"sharedInbox" gorm:"type:text"`
	Name          string    `json:"name" gorm:"type:text"`
	Summary       string    `json:"summary" gorm:"type:text"`
	IconURL       string    `json:"iconUrl" gorm:"type:text"`
	PublicKeyPem  string    `json:"publicKeyPem" gorm:"type:text"`
	PrivateKeyPem string    `json:"-" gorm:"type:text"`
	Email         string    `json:"-" gorm:"type:text"` // local actors only
	IsSuspended   bool      `json:"isSuspended" gorm:"type:boolean;default:false"`
	IsAdmin       bool      `json:"isAdmin" gorm:"type:boolean;default:false"`
	IsModerator   bool      `json:"isModerator" gorm:"type:boolean;default:false"`
	LastFetched   time.Time `json:"lastFetched" gorm:"type:timestamp with time zone"`
	CDate         time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

func (a Actor) IsLocal() bool {
	return a.Host == ""
}

// Follow is a follower -> followee edge. The activity URI is kept so
// a later Undo can address the original Follow.
type Follow struct {
	ID         string    `json:"id" gorm:"primaryKey;type:char(20)"`
	URI        string    `json:"uri" gorm:"type:text"`
	FollowerID string    `json:"followerId" gorm:"type:char(20);uniqueIndex:idx_follow_edge"`
	FolloweeID string    `json:"followeeId" gorm:"type:char(20);uniqueIndex:idx_follow_edge"`
	CDate      time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Blocking is a blocker -> blockee edge.
type Blocking struct {
	ID        string    `json:"id" gorm:"primaryKey;type:char(20)"`
	BlockerID string    `json:"blockerId" gorm:"type:char(20);uniqueIndex:idx_blocking_edge"`
	BlockeeID string    `json:"blockeeId" gorm:"type:char(20);uniqueIndex:idx_blocking_edge"`
	CDate     time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Muting is a muter -> mutee edge. Purely local, never federated.
type Muting struct {
	ID      string    `json:"id" gorm:"primaryKey;type:char(20)"`
	MuterID string    `json:"muterId" gorm:"type:char(20);uniqueIndex:idx_muting_edge"`
	MuteeID string    `json:"muteeId" gorm:"type:char(20);uniqueIndex:idx_muting_edge"`
	CDate   time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// UserList is a user-curated list of actors.
type UserList struct {
	ID      string    `json:"id" gorm:"primaryKey;type:char(20)"`
	OwnerID string    `json:"ownerId" gorm:"type:char(20);index"`
	Name    string    `json:"name" gorm:"type:text"`
	CDate   time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// UserListMember is one actor's membership in a list.
type UserListMember struct {
	ID       string    `json:"id" gorm:"primaryKey;type:char(20)"`
	ListID   string    `json:"listId" gorm:"type:char(20);uniqueIndex:idx_list_member"`
	MemberID string    `json:"memberId" gorm:"type:char(20);uniqueIndex:idx_list_member"`
	CDate    time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// DriveFile is a stored file. Local exports keep their content inline;
// remote files are cached copies that can be demoted to links.
type DriveFile struct {
	ID      string    `json:"id" gorm:"primaryKey;type:char(20)"`
	ActorID string    `json:"actorId" gorm:"type:char(20);index"`
	Name    string    `json:"name" gorm:"type:text"`
	Host    string    `json:"host" gorm:"type:text"` // empty for local files
	URL     string    `json:"url" gorm:"type:text"`
	Content string    `json:"-" gorm:"type:text"`
	Size    int64     `json:"size" gorm:"type:bigint"`
	IsLink  bool      `json:"isLink" gorm:"type:boolean;default:false"`
	CDate   time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Note is a post. Remote notes keep their origin URI; local notes are
// addressed under this server's host.
type Note struct {
	ID            string     `json:"id" gorm:"primaryKey;type:char(20)"`
	URI           string     `json:"uri" gorm:"type:text;uniqueIndex"`
	AuthorID      string     `json:"authorId" gorm:"type:char(20);index"`
	Content       string     `json:"content" gorm:"type:text"`
	RenoteID      string     `json:"renoteId" gorm:"type:char(20)"`
	Visibility    string     `json:"visibility" gorm:"type:text;default:'public'"` // public, home, followers, specified
	LocalOnly     bool       `json:"localOnly" gorm:"type:boolean;default:false"`
	HasPoll       bool       `json:"hasPoll" gorm:"type:boolean;default:false"`
	PollChoices   string     `json:"pollChoices" gorm:"type:json"` // [{name, votes}]
	PollExpiresAt *time.Time `json:"pollExpiresAt" gorm:"type:timestamp with time zone"`
	Featured      bool       `json:"featured" gorm:"type:boolean;default:false"`
	CDate         time.Time  `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Reaction is a Like on a note. Unique per actor and note so duplicate
// Like deliveries collapse into one row.
type Reaction struct {
	ID      string    `json:"id" gorm:"primaryKey;type:char(20)"`
	URI     string    `json:"uri" gorm:"type:text"`
	ActorID string    `json:"actorId" gorm:"type:char(20);uniqueIndex:idx_reaction_unique"`
	NoteID  string    `json:"noteId" gorm:"type:char(20);uniqueIndex:idx_reaction_unique"`
	Kind    string    `json:"kind" gorm:"type:text;default:'👍'"`
	CDate   time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Emoji is a custom emoji. Host is empty for local emojis.
type Emoji struct {
	Name  string    `json:"name" gorm:"primaryKey;type:text"`
	Host  string    `json:"host" gorm:"primaryKey;type:text"`
	URL   string    `json:"url" gorm:"type:text"`
	CDate time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// AbuseReport is an append-only audit record. Never updated after creation.
type AbuseReport struct {
	ID             string    `json:"id" gorm:"primaryKey;type:char(20)"`
	TargetUserID   string    `json:"targetUserId" gorm:"type:char(20);index"`
	TargetUserHost string    `json:"targetUserHost" gorm:"type:text"`
	ReporterID     string    `json:"reporterId" gorm:"type:char(20)"`
	ReporterHost   string    `json:"reporterHost" gorm:"type:text"`
	Comment        string    `json:"comment" gorm:"type:text"`
	CDate          time.Time `json:"cdate" gorm:"autoCreateTime;type:timestamp with time zone"`
}

// Job is a durable queue entry. Terminal rows (completed/exhausted) are
// discarded by the queue's cleaner; nothing is retained for audit.
type Job struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Queue       string    `json:"queue" gorm:"type:text;index:idx_job_poll"`
	Type        string    `json:"type" gorm:"type:text"`
	Payload     string    `json:"payload" gorm:"type:json"`
	Attempts    int       `json:"attempts" gorm:"type:integer;default:0"`
	MaxAttempts int       `json:"maxAttempts" gorm:"type:integer"`
	BaseDelay   int64     `json:"baseDelay" gorm:"type:bigint"` // milliseconds
	Scheduled   time.Time `json:"scheduled" gorm:"type:timestamp with time zone;index:idx_job_poll"`
	Status      string    `json:"status" gorm:"type:text;index:idx_job_poll"` // pending, running, completed, exhausted
	Result      string    `json:"result" gorm:"type:text"`
	TraceID     string    `json:"traceID" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusExhausted = "exhausted"
)
