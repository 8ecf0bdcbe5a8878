package db

// NotifyChannel must match the channel the realtime listener subscribes to.
const NotifyChannel = "chat_sync_changes"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
        is_group BOOLEAN NOT NULL DEFAULT FALSE,
        name TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        last_message_id TEXT,
        last_message_text TEXT,
        last_message_at TIMESTAMPTZ,
        last_message_author_id TEXT
    );`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
        conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        user_id TEXT NOT NULL,
        joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (conversation_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS conversation_members_user_idx ON conversation_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
        conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        author_id TEXT NOT NULL,
        content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
        sent_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
    );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_sent_idx ON messages (conversation_id, sent_at);`,
	`CREATE TABLE IF NOT EXISTS read_markers (
        id BIGSERIAL PRIMARY KEY,
        conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        user_id TEXT NOT NULL,
        read_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS read_markers_lookup_idx ON read_markers (conversation_id, user_id, read_at DESC);`,
	`CREATE OR REPLACE VIEW enriched_conversation_members AS
        SELECT m.conversation_id, m.user_id, m.joined_at,
               COALESCE(p.name, '') AS name,
               COALESCE(p.avatar_url, '') AS avatar_url
        FROM conversation_members m
        LEFT JOIN profiles p ON p.id = m.user_id;`,
	`CREATE OR REPLACE FUNCTION has_user_read_conversation(p_conversation_id TEXT, p_user_id TEXT)
    RETURNS BOOLEAN LANGUAGE sql STABLE AS $$
        WITH latest AS (
            SELECT author_id, sent_at FROM messages
            WHERE conversation_id = p_conversation_id
            ORDER BY sent_at DESC LIMIT 1
        )
        SELECT CASE
            WHEN NOT EXISTS (SELECT 1 FROM latest) THEN TRUE
            WHEN (SELECT author_id FROM latest) = p_user_id THEN TRUE
            ELSE COALESCE((
                SELECT MAX(read_at) FROM read_markers
                WHERE conversation_id = p_conversation_id AND user_id = p_user_id
            ) >= (SELECT sent_at FROM latest), FALSE)
        END;
    $$;`,
	`CREATE OR REPLACE FUNCTION chat_sync_notify() RETURNS trigger LANGUAGE plpgsql AS $$
    BEGIN
        PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
            'table', TG_TABLE_NAME,
            'type', TG_OP,
            'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
            'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
            'commit_time', now()
        )::text);
        RETURN NULL;
    END;
    $$;`,
	`DROP TRIGGER IF EXISTS conversations_notify ON conversations;`,
	`CREATE TRIGGER conversations_notify AFTER INSERT OR UPDATE OR DELETE ON conversations
        FOR EACH ROW EXECUTE FUNCTION chat_sync_notify();`,
	`DROP TRIGGER IF EXISTS conversation_members_notify ON conversation_members;`,
	`CREATE TRIGGER conversation_members_notify AFTER INSERT OR UPDATE OR DELETE ON conversation_members
        FOR EACH ROW EXECUTE FUNCTION chat_sync_notify();`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT ON messages
        FOR EACH ROW EXECUTE FUNCTION chat_sync_notify();`,
	`DROP TRIGGER IF EXISTS read_markers_notify ON read_markers;`,
	`CREATE TRIGGER read_markers_notify AFTER INSERT ON read_markers
        FOR EACH ROW EXECUTE FUNCTION chat_sync_notify();`,
}
