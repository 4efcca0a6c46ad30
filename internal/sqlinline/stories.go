package sqlinline

const QInsertStory = `--sql 3f1c2a74-9b0e-4d2a-8a61-5d4f7c9e1b02
insert into stories(
  id,
  account_id,
  title,
  summary,
  voice,
  style_version,
  template_version,
  state,
  version,
  beats,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  $6::int,
  $7::int,
  'draft',
  1,
  $8::jsonb,
  now(),
  now()
);
`

const QSelectStory = `--sql 8e5b0f21-6c43-47d9-9f4a-2b8d1e6a7c35
select id, account_id, title, summary, voice, style_version, template_version,
       state, version, beats, created_at, updated_at
from stories
where id = $1::uuid;
`

const QUpdateStoryBeats = `--sql c7a94d02-1f58-4b6e-b3d2-9e0c4a8f5d16
update stories
set beats = $3::jsonb,
    version = version + 1,
    updated_at = now()
where id = $1::uuid
  and version = $2::bigint
returning version;
`

const QTransitionStory = `--sql 5d2e8b47-a0c1-4f39-86e5-7b3f9d1c2a60
with moved as (
  update stories
  set state = $4::text,
      version = version + 1,
      updated_at = now()
  where id = $1::uuid
    and version = $2::bigint
    and state = $3::text
  returning id, version
),
audit as (
  insert into state_transitions(id, story_id, from_state, to_state, actor, created_at)
  select gen_random_uuid(), moved.id, $3::text, $4::text, $5::text, now()
  from moved
  returning story_id
)
select version from moved;
`

const QClaimStalledStory = `--sql 1b6f3c58-e2d9-4a07-95b8-4c7a0e9d3f21
with stalled as (
    select s.id
    from stories s
    where s.state = 'generating'
      and exists (
        select 1
        from asset_slots a
        where a.story_id = s.id
          and a.status = 'processing'
          and a.lock_expires_at < now()
      )
    order by s.updated_at asc
    for update skip locked
    limit 1
),
claimed as (
    update stories
    set updated_at = now()
    where id in (select id from stalled)
    returning id, account_id, version
)
select * from claimed;
`
