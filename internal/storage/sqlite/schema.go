package sqlite

// schema is the SQLite equivalent of migrations/001_initial.sql.
const schema = `
CREATE TABLE IF NOT EXISTS behavioral_records (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    team_id          TEXT NOT NULL DEFAULT '',
    kind             TEXT NOT NULL,
    outcome          TEXT NOT NULL DEFAULT '',
    occurred_at      TEXT NOT NULL,
    response_time_ms INTEGER NOT NULL DEFAULT 0,
    accuracy         REAL,
    satisfaction     REAL,
    errored          INTEGER NOT NULL DEFAULT 0,
    attributes       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_behavioral_records_occurred_at ON behavioral_records (occurred_at);
CREATE INDEX IF NOT EXISTS idx_behavioral_records_user ON behavioral_records (user_id, occurred_at);

CREATE TABLE IF NOT EXISTS orchestration_sessions (
    id                          TEXT PRIMARY KEY,
    started_at                  TEXT NOT NULL,
    completed_at                TEXT NOT NULL,
    strategy                    TEXT NOT NULL,
    agents_executed             TEXT NOT NULL DEFAULT '[]',
    successful_executions       INTEGER NOT NULL,
    failed_executions           INTEGER NOT NULL,
    total_improvements          INTEGER NOT NULL DEFAULT 0,
    total_insights              INTEGER NOT NULL DEFAULT 0,
    coordination_plans_executed INTEGER NOT NULL DEFAULT 0,
    efficiency_score            REAL NOT NULL,
    errors                      TEXT NOT NULL DEFAULT '[]',
    CHECK (successful_executions + failed_executions = json_array_length(agents_executed))
);

CREATE TABLE IF NOT EXISTS performance_anomalies (
    id                  TEXT PRIMARY KEY,
    fingerprint         TEXT NOT NULL,
    detected_at         TEXT NOT NULL,
    anomaly_type        TEXT NOT NULL,
    severity            TEXT NOT NULL,
    affected_components TEXT NOT NULL DEFAULT '[]',
    metrics_involved    TEXT NOT NULL DEFAULT '[]',
    root_cause          TEXT NOT NULL DEFAULT '{}',
    recommended_actions TEXT NOT NULL DEFAULT '[]',
    auto_corrected      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS discovered_patterns (
    id                       TEXT PRIMARY KEY,
    pattern_type             TEXT NOT NULL,
    name                     TEXT NOT NULL,
    description              TEXT NOT NULL DEFAULT '',
    confidence_score         REAL NOT NULL,
    supporting_session_count INTEGER NOT NULL,
    validation_status        TEXT NOT NULL,
    data                     TEXT NOT NULL,
    discovered_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS improvement_opportunities (
    id                        TEXT PRIMARY KEY,
    source_agent              TEXT NOT NULL,
    opportunity_type          TEXT NOT NULL,
    title                     TEXT NOT NULL,
    objectives                TEXT NOT NULL DEFAULT '[]',
    potential_impact          TEXT NOT NULL DEFAULT '{}',
    implementation_complexity TEXT NOT NULL,
    success_probability       REAL NOT NULL,
    innovation_score          REAL NOT NULL DEFAULT 0,
    priority_score            REAL NOT NULL DEFAULT 0,
    status                    TEXT NOT NULL,
    created_at                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS innovation_experiments (
    id             TEXT PRIMARY KEY,
    opportunity_id TEXT NOT NULL,
    title          TEXT NOT NULL,
    hypothesis     TEXT NOT NULL DEFAULT '',
    starts_at      TEXT NOT NULL,
    ends_at        TEXT NOT NULL,
    resource_cap   REAL NOT NULL,
    status         TEXT NOT NULL,
    CHECK (ends_at > starts_at)
);

CREATE TABLE IF NOT EXISTS personalization_profiles (
    user_id       TEXT PRIMARY KEY,
    body          TEXT NOT NULL,
    session_count INTEGER NOT NULL,
    last_updated  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_descriptors (
    name               TEXT PRIMARY KEY,
    version            TEXT NOT NULL,
    status             TEXT NOT NULL,
    last_run           TEXT,
    next_scheduled_run TEXT,
    health_score       REAL NOT NULL,
    success_rate       REAL NOT NULL,
    last_error         TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL
);
`
