package compute

// bodyKernelSource is the OpenCL C rendition of physics.Step. Body and
// RouteParams must match road.Body and road.RouteParams field for field.
const bodyKernelSource = `typedef struct {
    float pos_x;
    float pos_y;
    float vel_x;
    float vel_y;
    float acc_x;
    float acc_y;
    float heading;
    float target_speed;
    float following_factor;
    float max_acceleration;
    float max_deceleration;
    float length;
    int lane;
    int target_lane;
    float progress;
    int ramp;
    float ramp_travel;
} Body;

typedef struct {
    int kind;
    int lane_count;
    int lanes_per_direction;
    float center_x;
    float center_y;
    float inner_radius;
    float lane_width;
    float separation;
    float extent;
    float loop_radius;
    float ramp_offset;
    float speed_limit;
    float min_speed;
    float following_distance;
    float lane_change_time;
    float safety_margin;
    float emergency_brake_distance;
    float warning_distance;
} RouteParams;

#define KIND_DONUT 1
#define KIND_CLOVERLEAF 2
#define RAMP_SWEEP (1.5f * M_PI_F)

__constant float DIR_X[4] = {0.0f, 0.0f, -1.0f, 1.0f};
__constant float DIR_Y[4] = {-1.0f, 1.0f, 0.0f, 0.0f};
__constant float RAMP_SX[5] = {0.0f, 1.0f, 1.0f, -1.0f, -1.0f};
__constant float RAMP_SY[5] = {0.0f, 1.0f, -1.0f, -1.0f, 1.0f};
__constant float RAMP_END[5] = {0.0f, -0.5f * M_PI_F, M_PI_F, 0.5f * M_PI_F, 0.0f};

float wrap_period(float x, float period) {
    x = fmod(x, period);
    if (x < 0.0f) {
        x += period;
    }
    return x;
}

float heading_of(float vx, float vy, float fallback) {
    if (hypot(vx, vy) > 0.1f) {
        return atan2(vy, vx);
    }
    return fallback;
}

int same_corridor(const Body* from, const Body* to) {
    if (to->lane == from->lane) {
        return 1;
    }
    return from->target_lane != 0 && to->lane == from->target_lane;
}

/* donut */

float lane_radius(const RouteParams* p, int lane) {
    return p->inner_radius + p->lane_width * 0.5f + (float)(lane - 1) * p->lane_width;
}

float donut_angle(const RouteParams* p, float x, float y) {
    return atan2(y - p->center_y, x - p->center_x);
}

int donut_gap(const RouteParams* p, const Body* from, const Body* to, float* gap) {
    if (!same_corridor(from, to)) {
        return 0;
    }
    float diff = wrap_period(donut_angle(p, to->pos_x, to->pos_y) - donut_angle(p, from->pos_x, from->pos_y), 2.0f * M_PI_F);
    if (diff <= 0.0f || diff >= M_PI_F) {
        return 0;
    }
    *gap = diff * hypot(from->pos_x - p->center_x, from->pos_y - p->center_y);
    return 1;
}

Body donut_advance(const RouteParams* p, Body b, float speed, float progress, float dt) {
    float r = lane_radius(p, b.lane);
    if (b.target_lane != 0) {
        r = mix(r, lane_radius(p, b.target_lane), progress);
    }
    float theta = donut_angle(p, b.pos_x, b.pos_y) + speed * dt / r;
    float tangent = theta + 0.5f * M_PI_F;
    b.pos_x = p->center_x + r * cos(theta);
    b.pos_y = p->center_y + r * sin(theta);
    b.vel_x = cos(tangent) * speed;
    b.vel_y = sin(tangent) * speed;
    b.heading = heading_of(b.vel_x, b.vel_y, tangent);
    b.progress = progress;
    return b;
}

/* cloverleaf */

int lane_group(const RouteParams* p, int lane) {
    return (lane - 1) / p->lanes_per_direction;
}

float lane_lateral(const RouteParams* p, int lane) {
    int k = (lane - 1) % p->lanes_per_direction;
    return ((float)k - (float)(p->lanes_per_direction - 1) * 0.5f) * p->lane_width;
}

float2 group_origin(const RouteParams* p, int g) {
    switch (g) {
    case 0:
        return (float2)(p->center_x - p->separation, p->center_y + p->extent);
    case 1:
        return (float2)(p->center_x + p->separation, p->center_y - p->extent);
    case 2:
        return (float2)(p->center_x + p->extent, p->center_y + p->separation);
    default:
        return (float2)(p->center_x - p->extent, p->center_y - p->separation);
    }
}

float2 group_point(const RouteParams* p, int g, float off, float s) {
    float2 o = group_origin(p, g);
    return (float2)(o.x + DIR_X[g] * s + fabs(DIR_Y[g]) * off, o.y + DIR_Y[g] * s + fabs(DIR_X[g]) * off);
}

float group_along(const RouteParams* p, int g, float x, float y) {
    float2 o = group_origin(p, g);
    return (x - o.x) * DIR_X[g] + (y - o.y) * DIR_Y[g];
}

float ramp_merge_along(const RouteParams* p, int r, int g) {
    float lr = p->loop_radius;
    float qx = p->center_x + RAMP_SX[r] * p->ramp_offset;
    float qy = p->center_y + RAMP_SY[r] * p->ramp_offset;
    return group_along(p, g, qx + lr * cos(RAMP_END[r]), qy + lr * sin(RAMP_END[r]));
}

/* along-lane coordinate on the lane's carriageway; ramp cars sit behind the
   merge point by the arc they have left */
float cloverleaf_projected(const RouteParams* p, const Body* b) {
    int g = lane_group(p, b->lane);
    if (b->ramp == 0) {
        return group_along(p, g, b->pos_x, b->pos_y);
    }
    return ramp_merge_along(p, b->ramp, g) - (RAMP_SWEEP - b->ramp_travel) * p->loop_radius;
}

int cloverleaf_gap(const RouteParams* p, const Body* from, const Body* to, float* gap) {
    if (!same_corridor(from, to)) {
        return 0;
    }
    float l = 2.0f * p->extent;
    float d = wrap_period(cloverleaf_projected(p, to) - cloverleaf_projected(p, from), l);
    if (d <= 0.0f || d >= 0.5f * l) {
        return 0;
    }
    *gap = d;
    return 1;
}

Body cloverleaf_advance(const RouteParams* p, Body b, float speed, float progress, float dt) {
    float l = 2.0f * p->extent;
    if (b.ramp != 0) {
        float lr = p->loop_radius;
        float travel = b.ramp_travel + speed * dt / lr;
        float qx = p->center_x + RAMP_SX[b.ramp] * p->ramp_offset;
        float qy = p->center_y + RAMP_SY[b.ramp] * p->ramp_offset;
        float end = RAMP_END[b.ramp];
        if (travel >= RAMP_SWEEP) {
            int g = lane_group(p, b.lane);
            float s = wrap_period(ramp_merge_along(p, b.ramp, g) + (travel - RAMP_SWEEP) * lr, l);
            float2 pt = group_point(p, g, lane_lateral(p, b.lane), s);
            b.pos_x = pt.x;
            b.pos_y = pt.y;
            b.vel_x = DIR_X[g] * speed;
            b.vel_y = DIR_Y[g] * speed;
            b.heading = atan2(DIR_Y[g], DIR_X[g]);
            b.ramp = 0;
            b.ramp_travel = 0.0f;
            return b;
        }
        float phi = end + RAMP_SWEEP - travel;
        float tx = sin(phi);
        float ty = -cos(phi);
        b.pos_x = qx + lr * cos(phi);
        b.pos_y = qy + lr * sin(phi);
        b.vel_x = tx * speed;
        b.vel_y = ty * speed;
        b.heading = heading_of(b.vel_x, b.vel_y, atan2(ty, tx));
        b.ramp_travel = travel;
        return b;
    }
    int g = lane_group(p, b.lane);
    float off = lane_lateral(p, b.lane);
    if (b.target_lane != 0) {
        off = mix(off, lane_lateral(p, b.target_lane), progress);
    }
    float s = wrap_period(group_along(p, g, b.pos_x, b.pos_y) + speed * dt, l);
    float2 pt = group_point(p, g, off, s);
    b.pos_x = pt.x;
    b.pos_y = pt.y;
    b.vel_x = DIR_X[g] * speed;
    b.vel_y = DIR_Y[g] * speed;
    b.heading = atan2(DIR_Y[g], DIR_X[g]);
    b.progress = progress;
    return b;
}

/* kinematics */

float target_speed(const RouteParams* p, const Body* b, float v, float gap, float lead, int found) {
    float desired = fmin(fmax(b->target_speed, p->min_speed), p->speed_limit);
    if (!found) {
        return desired;
    }
    float follow = p->following_distance * v * b->following_factor + p->safety_margin;
    if (gap < p->emergency_brake_distance) {
        return 0.0f;
    }
    if (gap < p->warning_distance) {
        float base = desired;
        if (gap < follow) {
            base = fmin(desired, lead);
        }
        return base * (gap - p->emergency_brake_distance) / (p->warning_distance - p->emergency_brake_distance);
    }
    if (gap < follow) {
        return fmin(lead, desired);
    }
    return desired;
}

__kernel void step_bodies(
    const int n,
    const float dt,
    __global const RouteParams* params,
    __global const Body* in,
    __global Body* out)
{
    int i = get_global_id(0);
    if (i >= n) {
        return;
    }
    RouteParams p = *params;
    Body b = in[i];
    float v = hypot(b.vel_x, b.vel_y);

    int found = 0;
    float gap = 0.0f;
    float lead = 0.0f;
    for (int j = 0; j < n; j++) {
        if (j == i) {
            continue;
        }
        Body o = in[j];
        float d = 0.0f;
        int ok = p.kind == KIND_CLOVERLEAF ? cloverleaf_gap(&p, &b, &o, &d) : donut_gap(&p, &b, &o, &d);
        if (ok && (!found || d < gap)) {
            gap = d;
            lead = hypot(o.vel_x, o.vel_y);
            found = 1;
        }
    }

    float target = target_speed(&p, &b, v, gap, lead, found);
    float a = (target - v) / dt;
    if (a > 0.0f) {
        a = fmin(a, b.max_acceleration);
    } else {
        a = fmax(a, -b.max_deceleration);
    }
    float speed = fmax(0.0f, v + a * dt);

    float progress = b.progress;
    if (b.target_lane != 0) {
        progress = fmin(1.0f, progress + dt / p.lane_change_time);
    }

    Body r = p.kind == KIND_CLOVERLEAF ? cloverleaf_advance(&p, b, speed, progress, dt) : donut_advance(&p, b, speed, progress, dt);
    r.acc_x = (r.vel_x - b.vel_x) / dt;
    r.acc_y = (r.vel_y - b.vel_y) / dt;
    if (r.target_lane != 0 && r.progress >= 1.0f) {
        r.lane = r.target_lane;
        r.target_lane = 0;
        r.progress = 0.0f;
    }
    out[i] = r;
}`
