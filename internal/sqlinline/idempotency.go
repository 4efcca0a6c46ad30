package sqlinline

// QBeginIdempotency inserts an in-flight record, or reclaims an expired
// one. A conflicting live record returns no row; the caller reads it
// with QSelectIdempotency to decide between replay and join.
const QBeginIdempotency = `--sql e8d3a927-5b41-4c08-9f6a-3d7e1c5b8f40
insert into idempotency_keys(endpoint, idem_key, state, result, created_at, expires_at)
values ($1::text, $2::text, 'inflight', null, now(), now() + make_interval(secs => $3::int))
on conflict (endpoint, idem_key) do update
set state = 'inflight',
    result = null,
    created_at = now(),
    expires_at = excluded.expires_at
where idempotency_keys.expires_at < now()
returning state;
`

const QSelectIdempotency = `--sql 2f7b5c14-9e68-4d03-b2a5-8c1f4e7d0a96
select state, result
from idempotency_keys
where endpoint = $1::text
  and idem_key = $2::text
  and expires_at >= now();
`

const QAbandonIdempotency = `--sql 7b0d4f26-8e95-4a31-b6c8-2f5a9e0d1c73
delete from idempotency_keys
where endpoint = $1::text
  and idem_key = $2::text
  and state = 'inflight';
`

const QCompleteIdempotency = `--sql a1e6d849-3c72-4f50-8b9e-6d0a2c5f1b84
update idempotency_keys
set state = 'completed',
    result = $3::jsonb
where endpoint = $1::text
  and idem_key = $2::text
  and state = 'inflight';
`
