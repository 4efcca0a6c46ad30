package sqlinline

// Every slot mutation below is a single-row conditional update. The
// where clause is the compare half of the compare-and-swap: zero rows
// affected means another writer changed the row first.

const QEnsureSlot = `--sql 9a4d1e72-3b8c-40f5-a6d9-8e2b5c0f7a43
insert into asset_slots(
  story_id,
  slot_key,
  fingerprint,
  artifact_ref,
  status,
  lock_token,
  lock_expires_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  '',
  '',
  'queued',
  '',
  now(),
  now()
)
on conflict (story_id, slot_key) do nothing;
`

const QSelectSlot = `--sql f2c8a615-7d04-4e9b-b1f3-6a9e2d5c8b07
select story_id, slot_key, fingerprint, artifact_ref, status, lock_token, lock_expires_at, updated_at
from asset_slots
where story_id = $1::uuid
  and slot_key = $2::text;
`

const QSelectSlots = `--sql 6e0b9d38-2a57-4c16-8f4e-1d3c7b8a9e52
select story_id, slot_key, fingerprint, artifact_ref, status, lock_token, lock_expires_at, updated_at
from asset_slots
where story_id = $1::uuid
order by slot_key asc;
`

const QAcquireSlotLock = `--sql b3e7f0a9-8c25-4d61-97a4-5f1e8d2c6b90
update asset_slots
set status = 'processing',
    lock_token = $3::text,
    lock_expires_at = now() + make_interval(secs => $4::int),
    updated_at = now()
where story_id = $1::uuid
  and slot_key = $2::text
  and (
    status in ('queued', 'ready', 'failed', 'cancelled')
    or (status = 'processing' and lock_expires_at < now())
  );
`

const QCommitSlot = `--sql 4a8c2f61-0e9d-4b37-85c2-9d6f3a1e7b28
update asset_slots
set status = 'ready',
    fingerprint = $4::text,
    artifact_ref = $5::text,
    lock_token = '',
    updated_at = now()
where story_id = $1::uuid
  and slot_key = $2::text
  and status = 'processing'
  and lock_token = $3::text;
`

const QFailSlot = `--sql d5b1e847-6f30-4a92-bc85-2e7d9c4f0a61
update asset_slots
set status = 'failed',
    lock_token = '',
    updated_at = now()
where story_id = $1::uuid
  and slot_key = $2::text
  and status = 'processing'
  and lock_token = $3::text;
`

const QCancelSlot = `--sql 7c9f4b20-1d86-4e53-a9b7-0f2e6d8c3a15
update asset_slots
set status = 'cancelled',
    lock_token = '',
    updated_at = now()
where story_id = $1::uuid
  and slot_key = $2::text
  and status = 'processing';
`
