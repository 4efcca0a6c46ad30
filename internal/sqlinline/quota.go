package sqlinline

// QReserveQuota checks the balance and writes the hold in one statement
// so two concurrent reservations can never both observe sufficient
// balance. No row returned means the allowance would be exceeded.
const QReserveQuota = `--sql 0c4e8a53-7d19-4b66-92f8-5a3c1e6d9b07
with hold as (
  update quota_accounts
  set reserved = reserved + $3::int
  where account_id = $1::text
    and quota_type = $2::text
    and used + reserved + $3::int <= allowance
  returning account_id
)
insert into quota_reservations(id, account_id, quota_type, request_id, amount, consumed, state, created_at, updated_at)
select $4::uuid, $1::text, $2::text, $5::text, $3::int, 0, 'reserved', now(), now()
from hold
returning id;
`

// QConsumeReservation settles a reservation exactly once: the guard on
// state = 'reserved' makes a repeated consume a no-op. Used units are
// charged; the rest of the hold is released.
const QConsumeReservation = `--sql 91b5d2f7-4a08-4e63-8c1b-7f9e0d3a5c42
with settled as (
  update quota_reservations
  set state = 'consumed',
      consumed = $2::int,
      updated_at = now()
  where id = $1::uuid
    and state = 'reserved'
  returning account_id, quota_type, amount
)
update quota_accounts a
set used = a.used + $2::int,
    reserved = a.reserved - settled.amount
from settled
where a.account_id = settled.account_id
  and a.quota_type = settled.quota_type;
`

const QRefundReservation = `--sql 63f0c8b1-2e94-4d57-a08f-9c5b4e1d7a20
with settled as (
  update quota_reservations
  set state = 'refunded',
      updated_at = now()
  where id = $1::uuid
    and state = 'reserved'
  returning account_id, quota_type, amount
)
update quota_accounts a
set reserved = a.reserved - settled.amount
from settled
where a.account_id = settled.account_id
  and a.quota_type = settled.quota_type;
`

const QSelectQuotaBalance = `--sql b8a2f6e0-5c31-4970-bd64-1e8d7f0c9a53
select allowance, used, reserved
from quota_accounts
where account_id = $1::text
  and quota_type = $2::text;
`
